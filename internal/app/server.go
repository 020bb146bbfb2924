package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hitoshi/subgate/internal/auth"
	"github.com/hitoshi/subgate/internal/config"
	"github.com/hitoshi/subgate/internal/handler"
	"github.com/hitoshi/subgate/internal/identity"
	"github.com/hitoshi/subgate/internal/magiclink"
	"github.com/hitoshi/subgate/internal/metrics"
	"github.com/hitoshi/subgate/internal/middleware"
	"github.com/hitoshi/subgate/internal/payment"
	"github.com/hitoshi/subgate/internal/repository"
	"github.com/hitoshi/subgate/internal/revocation"
	"github.com/hitoshi/subgate/internal/security"
	"github.com/hitoshi/subgate/internal/session"
	"github.com/hitoshi/subgate/internal/subscription"
	"github.com/hitoshi/subgate/internal/telegram"
	"github.com/hitoshi/subgate/internal/user"
)

// telegramFrameAncestors はミニアプリを埋め込むTelegramのWebクライアント。
var telegramFrameAncestors = []string{"https://web.telegram.org", "https://*.telegram.org"}

// server はワイヤリング済みのHTTPハンドラーと、停止時に解放するリソース。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	redis       *redis.Client
}

// Close はバックグラウンド処理と外部接続を解放する。
func (s *server) Close() {
	s.rateLimiter.Stop()
	if s.redis != nil {
		s.redis.Close()
	}
}

// newServer は設定とDB接続から全依存関係を組み立てる。
func newServer(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*server, error) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	stampRepo := repository.NewPostgresStampRepo(db)
	tokenRepo := repository.NewPostgresMagicTokenRepo(db)
	paymentRepo := repository.NewPostgresPaymentRepo(db)
	settlementRepo := repository.NewPostgresSettlementRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)

	// 3. 失効スタンプのキャッシュ。複数インスタンスではRedisで共有する
	var (
		stampCache  session.StampCache
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		client, err := session.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		redisClient = client
		stampCache = session.NewRedisStampCache(client, cfg.StampCacheTTL)
		logger.Info("stamp cache backed by redis")
	} else {
		stampCache = session.NewMemoryStampCache(cfg.StampCacheTTL)
		logger.Warn("stamp cache is process-local; revocation is not shared across instances")
	}

	// 4. セッションエンジンと失効
	engine, err := session.NewEngine(cfg.SessionSecret, userRepo, stampRepo, stampCache, collector)
	if err != nil {
		return nil, fmt.Errorf("failed to start session engine: %w", err)
	}
	authority := revocation.NewAuthority(stampRepo, stampCache, collector)

	// 5. ボットAPIクライアント。宛先はEgressGuardで公開アドレスに限定する
	egress := security.NewEgressGuard()
	if err := egress.ValidateURL(cfg.TelegramAPIURL); err != nil {
		return nil, fmt.Errorf("telegram API URL rejected: %w", err)
	}
	bot := telegram.NewClient(egress.NewClient(cfg.NotifyTimeout), logger, telegram.ClientConfig{
		BaseURL: cfg.TelegramAPIURL,
		Token:   cfg.TelegramBotToken,
		Timeout: cfg.NotifyTimeout,
	})
	sanitizer := security.NewMessageSanitizer()

	// 6. ドメインサービス
	userService := user.NewService(userRepo)
	links := magiclink.NewService(tokenRepo, userRepo, collector, magiclink.Config{TTL: cfg.MagicTokenTTL})
	authService := auth.NewService(engine, links, authority, userService, auth.ServiceConfig{
		BaseURL:        cfg.BaseURL,
		BotToken:       cfg.TelegramBotToken,
		InitDataMaxAge: cfg.InitDataMaxAge,
	})
	reconciler := payment.NewReconciler(settlementRepo, bot, sanitizer, collector, logger)
	checkout := payment.NewCheckoutService(paymentRepo, userRepo, bot, payment.CheckoutConfig{Currency: cfg.PaymentCurrency})
	subService := subscription.NewService(subRepo)

	// 7. 利用者情報の解決順: 信頼済みヘッダー → Cookie
	var strategies []identity.Strategy
	if cfg.TrustEdgeHeaders {
		strategies = append(strategies, identity.HeaderStrategy{})
		logger.Warn("trusting identity headers from the edge gateway")
	}
	strategies = append(strategies, identity.NewCookieStrategy(engine))
	resolver := identity.NewResolver(strategies...)

	// 8. レート制限（設定はreq/min、リミッターはreq/sec）
	rlCfg := middleware.DefaultRateLimiterConfig()
	rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rlCfg.GeneralBurst = cfg.RateLimitGeneral
	rlCfg.HandshakeRate = rate.Limit(float64(cfg.RateLimitHandshake) / 60.0)
	rlCfg.HandshakeBurst = cfg.RateLimitHandshake
	rateLimiter := middleware.NewRateLimiter(rlCfg)

	webhook := handler.NewWebhookHandler(reconciler, authService, userService, bot, sanitizer,
		handler.WebhookConfig{Secret: cfg.TelegramWebhookSecret}, logger)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         logger,
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),
		StatusRecorder: collector,

		IdentityResolver:  resolver,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		FrameAncestors:    telegramFrameAncestors,
		TrustProxyHeaders: cfg.TrustEdgeHeaders,

		AuthService: authService,
		UserGetter:  userService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieDomain: cfg.CookieDomain,
		},

		Webhook: webhook,

		CheckoutService:     checkout,
		SubscriptionService: handler.NewSubscriptionServiceAdapter(subService),

		RemoteWiper: authService,
	})

	return &server{handler: router, rateLimiter: rateLimiter, redis: redisClient}, nil
}
