package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionSecret    string
	MagicTokenTTL    time.Duration
	StampCacheTTL    time.Duration
	RedisURL         string
	TrustEdgeHeaders bool

	// Telegram
	TelegramBotToken      string
	TelegramAPIURL        string
	TelegramWebhookSecret string
	NotifyTimeout         time.Duration
	InitDataMaxAge        time.Duration
	PaymentCurrency       string

	// Rate Limit (req/min)
	RateLimitGeneral   int
	RateLimitHandshake int

	// Cleanup
	TokenRetention    time.Duration
	PendingPaymentTTL time.Duration
	CleanupInterval   time.Duration

	// Server
	ServerPort string
	BaseURL    string
	LogLevel   slog.Level

	// Cookie
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv はローカル開発用の.envファイルを読み込む。
// ファイルが無い場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.SessionSecret = required("SESSION_SECRET")
	cfg.TelegramBotToken = required("TELEGRAM_BOT_TOKEN")
	cfg.BaseURL = strings.TrimRight(required("BASE_URL"), "/")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.MagicTokenTTL = getEnvDuration("MAGIC_TOKEN_TTL", 10*time.Minute)
	cfg.StampCacheTTL = getEnvDuration("STAMP_CACHE_TTL", 60*time.Second)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.TrustEdgeHeaders = getEnvBool("TRUST_EDGE_HEADERS", false)
	cfg.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 15*time.Second)
	cfg.TelegramAPIURL = getEnvString("TELEGRAM_API_URL", "https://api.telegram.org")
	cfg.TelegramWebhookSecret = getEnvString("TELEGRAM_WEBHOOK_SECRET", "")
	cfg.InitDataMaxAge = getEnvDuration("INIT_DATA_MAX_AGE", 24*time.Hour)
	cfg.PaymentCurrency = getEnvString("PAYMENT_CURRENCY", "XTR")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitHandshake = getEnvInt("RATE_LIMIT_HANDSHAKE", 20)
	cfg.TokenRetention = getEnvDuration("TOKEN_RETENTION", 24*time.Hour)
	cfg.PendingPaymentTTL = getEnvDuration("PENDING_PAYMENT_TTL", 24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "https://web.telegram.org")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
