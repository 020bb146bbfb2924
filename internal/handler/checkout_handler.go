package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/subgate/internal/middleware"
	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/payment"
)

// CheckoutServiceInterface はチェックアウトハンドラーが必要とするサービスインターフェース。
type CheckoutServiceInterface interface {
	Checkout(ctx context.Context, userID, tierID string) (*payment.CheckoutResult, error)
}

// CheckoutHandler はチェックアウトのHTTPハンドラー。
type CheckoutHandler struct {
	service CheckoutServiceInterface
}

// NewCheckoutHandler はCheckoutHandlerを生成する。
func NewCheckoutHandler(service CheckoutServiceInterface) *CheckoutHandler {
	return &CheckoutHandler{service: service}
}

type checkoutRequest struct {
	TierID string `json:"tier_id"`
}

type checkoutResponse struct {
	PaymentID   string `json:"payment_id"`
	Payload     string `json:"payload"`
	TierName    string `json:"tier_name"`
	ServiceName string `json:"service_name"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

// Checkout はpendingの支払いを作成し、ボットから請求書を送る。
// POST /api/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("malformed JSON body"))
		return
	}
	if _, err := uuid.Parse(req.TierID); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("tier_id must be a UUID"))
		return
	}

	result, err := h.service.Checkout(r.Context(), userID, req.TierID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		PaymentID:   result.Payment.ID,
		Payload:     result.Payload,
		TierName:    result.Tier.Name,
		ServiceName: result.Tier.ServiceName,
		AmountMinor: result.Payment.AmountMinor,
		Currency:    result.Payment.Currency,
		Status:      string(model.PaymentPending),
	})
}
