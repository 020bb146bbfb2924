package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/subgate/internal/model"
)

// PostgresSettlementRepo は支払い確定と購読更新を1トランザクションで行うリポジトリ。
type PostgresSettlementRepo struct {
	db TxBeginner
}

// NewPostgresSettlementRepo はPostgresSettlementRepoを生成する。
func NewPostgresSettlementRepo(db TxBeginner) *PostgresSettlementRepo {
	return &PostgresSettlementRepo{db: db}
}

// Settle はpendingの支払いをsuccessへ遷移させ、購読を作成または更新する。
// 支払いの更新が0行の場合は購読に触れない。同じ課金で確定済みなら(nil, nil)、
// それ以外はmodel.ErrUnmatchedChargeを返す。
func (r *PostgresSettlementRepo) Settle(ctx context.Context, c model.Correlation, charge ChargeRef, now time.Time) (*model.Settlement, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. pending → success（ステータス条件付き更新）
	s := &model.Settlement{}
	p := &s.Payment
	err = tx.QueryRowContext(ctx,
		`UPDATE payments
		    SET status = 'success',
		        provider_charge_id = $6,
		        telegram_charge_id = $7,
		        settled_at = $8,
		        updated_at = $8
		  WHERE id = $1 AND user_id = $2 AND tier_id = $3 AND service_id = $4 AND merchant_id = $5
		    AND status = 'pending'
		 RETURNING id, user_id, merchant_id, service_id, tier_id, amount_minor, currency, status,
		           provider_charge_id, telegram_charge_id, created_at, updated_at, settled_at`,
		c.PaymentID, c.UserID, c.TierID, c.ServiceID, c.MerchantID,
		charge.ProviderChargeID, charge.TelegramChargeID, now,
	).Scan(&p.ID, &p.UserID, &p.MerchantID, &p.ServiceID, &p.TierID, &p.AmountMinor, &p.Currency, &p.Status,
		&p.ProviderChargeID, &p.TelegramChargeID, &p.CreatedAt, &p.UpdatedAt, &p.SettledAt)
	if err == sql.ErrNoRows {
		return nil, classifyUnsettled(ctx, tx, c, charge)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark payment settled: %w", err)
	}

	// 2. プランの期間を取得
	var intervalDays int
	err = tx.QueryRowContext(ctx,
		`SELECT t.name, s.name, t.interval_days
		   FROM tiers t
		   JOIN services s ON s.id = t.service_id
		  WHERE t.id = $1 AND t.service_id = $2`,
		c.TierID, c.ServiceID,
	).Scan(&s.TierName, &s.ServiceName, &intervalDays)
	if err == sql.ErrNoRows {
		return nil, model.ErrTierNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tier interval: %w", err)
	}
	expiresAt := now.Add(time.Duration(intervalDays) * 24 * time.Hour)

	// 3. (user, service) の購読を作成または更新
	sub := &s.Subscription
	err = tx.QueryRowContext(ctx,
		`INSERT INTO subscriptions (id, user_id, service_id, tier_id, merchant_id, status, expires_at, renewal_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'active', $6, 1, $7, $7)
		 ON CONFLICT (user_id, service_id) DO UPDATE
		    SET tier_id = EXCLUDED.tier_id,
		        merchant_id = EXCLUDED.merchant_id,
		        status = 'active',
		        expires_at = EXCLUDED.expires_at,
		        renewal_count = subscriptions.renewal_count + 1,
		        updated_at = EXCLUDED.updated_at
		 RETURNING id, user_id, service_id, tier_id, merchant_id, status, expires_at, renewal_count, created_at, updated_at`,
		uuid.New().String(), c.UserID, c.ServiceID, c.TierID, c.MerchantID, expiresAt, now,
	).Scan(&sub.ID, &sub.UserID, &sub.ServiceID, &sub.TierID, &sub.MerchantID, &sub.Status,
		&sub.ExpiresAt, &sub.RenewalCount, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	// 4. 通知先
	if err := tx.QueryRowContext(ctx,
		`SELECT telegram_id FROM users WHERE id = $1`,
		c.UserID,
	).Scan(&s.TelegramID); err != nil {
		return nil, fmt.Errorf("failed to read notification target: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s, nil
}

// classifyUnsettled は条件付き更新が0行だった支払いを調べ、再送か照合不能な課金かを判定する。
func classifyUnsettled(ctx context.Context, tx *sql.Tx, c model.Correlation, charge ChargeRef) error {
	var (
		userID, tierID, serviceID, merchantID string
		status                                model.PaymentStatus
		telegramChargeID                      sql.NullString
	)
	err := tx.QueryRowContext(ctx,
		`SELECT user_id, tier_id, service_id, merchant_id, status, telegram_charge_id
		   FROM payments
		  WHERE id = $1`,
		c.PaymentID,
	).Scan(&userID, &tierID, &serviceID, &merchantID, &status, &telegramChargeID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: payment %s does not exist", model.ErrUnmatchedCharge, c.PaymentID)
	}
	if err != nil {
		return fmt.Errorf("failed to inspect unsettled payment: %w", err)
	}

	if userID != c.UserID || tierID != c.TierID || serviceID != c.ServiceID || merchantID != c.MerchantID {
		return fmt.Errorf("%w: payment %s correlation mismatch", model.ErrUnmatchedCharge, c.PaymentID)
	}
	if status == model.PaymentSuccess && telegramChargeID.String == charge.TelegramChargeID {
		return nil
	}
	return fmt.Errorf("%w: payment %s is %s (charge %q)", model.ErrUnmatchedCharge, c.PaymentID, status, telegramChargeID.String)
}

var _ SettlementRepository = (*PostgresSettlementRepo)(nil)
