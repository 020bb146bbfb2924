package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/subgate/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

const listSubscriptionsQuery = `
	SELECT s.id, s.user_id, s.service_id, s.tier_id, s.merchant_id, s.status, s.expires_at,
	       s.renewal_count, s.created_at, s.updated_at, sv.name, t.name
	  FROM subscriptions s
	  JOIN services sv ON sv.id = s.service_id
	  JOIN tiers t ON t.id = s.tier_id
	 WHERE s.user_id = $1
	 ORDER BY s.expires_at DESC`

// ListByUserID は利用者の購読一覧をサービス名・プラン名付きで有効期限の降順に返す。
func (r *PostgresSubscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, listSubscriptionsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]*model.Subscription, 0)
	for rows.Next() {
		var s model.Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.ServiceID, &s.TierID, &s.MerchantID, &s.Status,
			&s.ExpiresAt, &s.RenewalCount, &s.CreatedAt, &s.UpdatedAt, &s.ServiceName, &s.TierName); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
