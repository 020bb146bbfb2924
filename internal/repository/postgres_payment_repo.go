package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/subgate/internal/model"
)

// PostgresPaymentRepo はチェックアウト時の支払いデータを扱うリポジトリ。
type PostgresPaymentRepo struct {
	db *sql.DB
}

// NewPostgresPaymentRepo はPostgresPaymentRepoを生成する。
func NewPostgresPaymentRepo(db *sql.DB) *PostgresPaymentRepo {
	return &PostgresPaymentRepo{db: db}
}

// FindTier はプランをサービス・加盟店情報と共に取得する。見つからない場合はnilを返す。
func (r *PostgresPaymentRepo) FindTier(ctx context.Context, tierID string) (*model.Tier, error) {
	tier := &model.Tier{}
	err := r.db.QueryRowContext(ctx,
		`SELECT t.id, t.service_id, s.merchant_id, t.name, s.name, t.price_minor, t.currency, t.interval_days
		   FROM tiers t
		   JOIN services s ON s.id = t.service_id
		  WHERE t.id = $1`,
		tierID,
	).Scan(&tier.ID, &tier.ServiceID, &tier.MerchantID, &tier.Name, &tier.ServiceName,
		&tier.PriceMinor, &tier.Currency, &tier.IntervalDays)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tier: %w", err)
	}
	return tier, nil
}

// CreatePending はpending状態の支払いレコードを作成する。
// 利用者が存在しない場合はmodel.ErrIdentityNotFoundを返す。
func (r *PostgresPaymentRepo) CreatePending(ctx context.Context, p *model.Payment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (id, user_id, merchant_id, service_id, tier_id, amount_minor, currency, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $8)`,
		p.ID, p.UserID, p.MerchantID, p.ServiceID, p.TierID, p.AmountMinor, p.Currency, p.CreatedAt,
	)
	if isForeignKeyViolation(err) {
		return model.ErrIdentityNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	p.Status = model.PaymentPending
	p.UpdatedAt = p.CreatedAt
	return nil
}

var _ PaymentRepository = (*PostgresPaymentRepo)(nil)
