// Package subscription は購読の参照ロジックを提供する。
package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/repository"
)

// SubscriptionInfo は利用者向けに返す購読情報。
// Statusは有効期限を過ぎたactiveをexpiredとして返す。
type SubscriptionInfo struct {
	ID           string
	ServiceID    string
	TierID       string
	MerchantID   string
	ServiceName  string
	TierName     string
	Status       model.SubscriptionStatus
	ExpiresAt    time.Time
	RenewalCount int
}

// Service は購読参照のサービス層。
type Service struct {
	subRepo repository.SubscriptionRepository
	nowF    func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(subRepo repository.SubscriptionRepository) *Service {
	return &Service{subRepo: subRepo, nowF: time.Now}
}

// ListSubscriptions は利用者の購読一覧を返す。
func (s *Service) ListSubscriptions(ctx context.Context, userID string) ([]SubscriptionInfo, error) {
	subs, err := s.subRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}

	now := s.nowF()
	result := make([]SubscriptionInfo, 0, len(subs))
	for _, sub := range subs {
		status := sub.Status
		if status == model.SubscriptionActive && !now.Before(sub.ExpiresAt) {
			status = model.SubscriptionExpired
		}
		result = append(result, SubscriptionInfo{
			ID:           sub.ID,
			ServiceID:    sub.ServiceID,
			TierID:       sub.TierID,
			MerchantID:   sub.MerchantID,
			ServiceName:  sub.ServiceName,
			TierName:     sub.TierName,
			Status:       status,
			ExpiresAt:    sub.ExpiresAt,
			RenewalCount: sub.RenewalCount,
		})
	}
	return result, nil
}
