package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/subgate/internal/middleware"
	"github.com/hitoshi/subgate/internal/model"
)

// RemoteWiper は運営者による強制ログアウトのインターフェース。
type RemoteWiper interface {
	RemoteWipe(ctx context.Context, actorID, targetUserID string) error
}

// AdminHandler は運営者向けのHTTPハンドラー。RequireStaffの後に配置する。
type AdminHandler struct {
	wiper RemoteWiper
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(wiper RemoteWiper) *AdminHandler {
	return &AdminHandler{wiper: wiper}
}

// RevokeSessions は対象利用者の全資格情報を無効にする。
// POST /api/admin/users/{id}/revoke
func (h *AdminHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(targetID); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid user id"))
		return
	}

	actor := middleware.IdentityFromContext(r.Context())
	if err := h.wiper.RemoteWipe(r.Context(), actor.UserID, targetID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
