package handler

import (
	"context"

	"github.com/hitoshi/subgate/internal/subscription"
)

// SubscriptionServiceAdapter は subscription.Service を SubscriptionServiceInterface に適合させるアダプタ。
type SubscriptionServiceAdapter struct {
	svc *subscription.Service
}

// NewSubscriptionServiceAdapter はSubscriptionServiceAdapterを生成する。
func NewSubscriptionServiceAdapter(svc *subscription.Service) *SubscriptionServiceAdapter {
	return &SubscriptionServiceAdapter{svc: svc}
}

// ListSubscriptions は利用者の購読一覧をhandlerレスポンス型で返す。
func (a *SubscriptionServiceAdapter) ListSubscriptions(ctx context.Context, userID string) ([]subscriptionResponse, error) {
	infos, err := a.svc.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}

	results := make([]subscriptionResponse, len(infos))
	for i, info := range infos {
		results[i] = toSubscriptionResponse(info)
	}
	return results, nil
}

func toSubscriptionResponse(info subscription.SubscriptionInfo) subscriptionResponse {
	return subscriptionResponse{
		ID:           info.ID,
		ServiceID:    info.ServiceID,
		TierID:       info.TierID,
		MerchantID:   info.MerchantID,
		Status:       string(info.Status),
		ExpiresAt:    info.ExpiresAt,
		RenewalCount: info.RenewalCount,
	}
}
