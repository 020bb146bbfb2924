package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/subgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	StatusRecorder middleware.StatusRecorder

	// ミドルウェア依存
	IdentityResolver  middleware.IdentityResolver
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	FrameAncestors    []string
	// TrustProxyHeaders が有効な場合、X-Forwarded-For等からクライアントIPを決める。
	TrustProxyHeaders bool

	// 認証
	AuthService AuthServiceInterface
	UserGetter  UserGetter
	AuthConfig  AuthHandlerConfig

	// ボット
	Webhook http.Handler

	// 決済・購読
	CheckoutService     CheckoutServiceInterface
	SubscriptionService SubscriptionServiceInterface

	// 運営
	RemoteWiper RemoteWiper
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → (RealIP) → SecurityHeaders → Metrics → CORS → Identity → Logging
//
// Identityは匿名も通す。認証必須のルートはRequireAuthenticated/RequireStaffで絞る。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.FrameAncestors))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewIdentityMiddleware(deps.IdentityResolver))
	r.Use(middleware.NewLoggingMiddleware(logger))

	csrfConfig := middleware.CSRFConfig{CookieDomain: deps.AuthConfig.CookieDomain}
	csrf := middleware.NewCSRFMiddleware(csrfConfig)

	authHandler := NewAuthHandler(deps.AuthService, deps.UserGetter, deps.AuthConfig)
	checkoutHandler := NewCheckoutHandler(deps.CheckoutService)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService)
	adminHandler := NewAdminHandler(deps.RemoteWiper)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// ボットからの通知。CSRF・CORSの対象外で、シークレットヘッダーで検証する
	if deps.Webhook != nil {
		r.Post("/webhook/telegram", deps.Webhook.ServeHTTP)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig).ServeHTTP)

		// ハンドシェイク。未認証のためクライアントIP単位で制限する
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.HandshakeMiddleware())
			r.Post("/telegram", authHandler.TelegramLogin)
			r.Get("/magic", authHandler.MagicLogin)
		})

		r.With(csrf).Post("/logout", authHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuthenticated)
			r.Get("/me", authHandler.Me)
			r.With(csrf).Post("/logout-everywhere", authHandler.LogoutEverywhere)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: RequireAuthenticated → RateLimit(General) → CSRF
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireAuthenticated)
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(csrf)

		r.Get("/subscriptions", subHandler.ListSubscriptions)
		r.Post("/checkout", checkoutHandler.Checkout)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireStaff)
			r.Post("/users/{id}/revoke", adminHandler.RevokeSessions)
		})
	})

	return r
}
