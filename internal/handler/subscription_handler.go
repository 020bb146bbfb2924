package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/subgate/internal/middleware"
	"github.com/hitoshi/subgate/internal/model"
)

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// ListSubscriptions は利用者の購読一覧を返す。
	ListSubscriptions(ctx context.Context, userID string) ([]subscriptionResponse, error)
}

// SubscriptionHandler は購読参照のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
	}
}

// subscriptionResponse は購読情報のAPIレスポンス。
type subscriptionResponse struct {
	ID           string    `json:"id"`
	ServiceID    string    `json:"service_id"`
	TierID       string    `json:"tier_id"`
	MerchantID   string    `json:"merchant_id"`
	Status       string    `json:"status"`
	ExpiresAt    time.Time `json:"expires_at"`
	RenewalCount int       `json:"renewal_count"`
}

// ListSubscriptions は利用者の購読一覧を取得する。
// GET /api/subscriptions
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	subs, err := h.service.ListSubscriptions(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, subs)
}
