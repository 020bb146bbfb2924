// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/subgate/internal/auth"
	"github.com/hitoshi/subgate/internal/middleware"
	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/session"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginWithMagicToken(ctx context.Context, token string) (*session.Credential, error)
	LoginWithTelegram(ctx context.Context, initData string) (*session.Credential, error)
	LogoutEverywhere(ctx context.Context, userID string) error
}

// UserGetter は/auth/meでプロフィールを返すためのインターフェース。
type UserGetter interface {
	Get(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieDomain string
}

// AuthHandler はログイン・ログアウト関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	users   UserGetter
	config  AuthHandlerConfig
	cookies session.CookieConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, users UserGetter, config AuthHandlerConfig) *AuthHandler {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &AuthHandler{
		service: service,
		users:   users,
		config:  config,
		cookies: session.CookieConfig{Domain: config.CookieDomain},
	}
}

// telegramLoginRequest はミニアプリログインのリクエストボディ。
type telegramLoginRequest struct {
	InitData string `json:"init_data"`
}

// sessionResponse はログイン成功時のレスポンス。トークン自体はCookieでのみ返す。
type sessionResponse struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// meResponse は現在の利用者情報のレスポンス。
type meResponse struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	MerchantID string `json:"merchant_id,omitempty"`
	Source     string `json:"source"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
}

// TelegramLogin はミニアプリの起動データでログインする。
// POST /auth/telegram
func (h *AuthHandler) TelegramLogin(w http.ResponseWriter, r *http.Request) {
	var req telegramLoginRequest
	if err := decodeJSON(w, r, &req); err != nil || req.InitData == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("init_data is required"))
		return
	}

	cred, err := h.service.LoginWithTelegram(r.Context(), req.InitData)
	if err != nil {
		if errors.Is(err, auth.ErrHandshakeFailed) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidInitDataError())
			return
		}
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, h.cookies.NewCookie(cred))
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:    cred.UserID,
		Role:      string(cred.Role),
		ExpiresAt: cred.ExpiresAt,
	})
}

// MagicLogin はマジックリンクを消費してログインし、フロントエンドにリダイレクトする。
// GET /auth/magic?token=xxx
// 失敗理由は区別せず、再試行を促すURLへリダイレクトする。
func (h *AuthHandler) MagicLogin(w http.ResponseWriter, r *http.Request) {
	// リンクプレビューなどでトークンが漏れないようにする
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	cred, err := h.service.LoginWithMagicToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		if !errors.Is(err, auth.ErrHandshakeFailed) {
			slog.Error("magic link login failed", slog.String("error", err.Error()))
		}
		http.Redirect(w, r, h.config.BaseURL+"/?auth=retry", http.StatusSeeOther)
		return
	}

	http.SetCookie(w, h.cookies.NewCookie(cred))
	http.Redirect(w, r, h.config.BaseURL+"/", http.StatusSeeOther)
}

// Me は現在の利用者情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if id.IsAnonymous() {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	resp := meResponse{
		UserID:     id.UserID,
		Role:       string(id.Role),
		MerchantID: id.MerchantID,
		Source:     string(id.Source),
	}
	if h.users != nil {
		user, err := h.users.Get(r.Context(), id.UserID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		resp.Username = user.Username
		resp.FirstName = user.FirstName
	}

	writeJSON(w, http.StatusOK, resp)
}

// Logout はこのブラウザのセッションCookieを削除する。
// 他の端末の資格情報は有効なまま残る。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.cookies.ExpiredCookie())
	w.WriteHeader(http.StatusNoContent)
}

// LogoutEverywhere は失効スタンプをローテーションし、全端末の資格情報を無効にする。
// POST /auth/logout-everywhere
func (h *AuthHandler) LogoutEverywhere(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	if err := h.service.LogoutEverywhere(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, h.cookies.ExpiredCookie())
	w.WriteHeader(http.StatusNoContent)
}
