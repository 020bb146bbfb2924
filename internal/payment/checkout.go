package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/repository"
	"github.com/hitoshi/subgate/internal/telegram"
)

// DefaultCurrency はプランに通貨が無い場合の請求通貨（Telegram Stars）。
const DefaultCurrency = "XTR"

// Bot APIの請求書フィールドの上限
const (
	maxInvoiceTitle       = 32
	maxInvoiceDescription = 255
)

// InvoiceSender は請求書を送信するインターフェース。
type InvoiceSender interface {
	SendInvoice(ctx context.Context, invoice telegram.Invoice) error
}

// UserFinder は請求書の送信先を取得するインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// CheckoutConfig はチェックアウトの設定。
type CheckoutConfig struct {
	Currency string
}

// CheckoutResult はチェックアウトの結果。
type CheckoutResult struct {
	Payment *model.Payment
	Tier    *model.Tier
	Payload string
}

// CheckoutService はpendingの支払いを作成し、照合情報付きの請求書を送る。
type CheckoutService struct {
	payments repository.PaymentRepository
	users    UserFinder
	invoices InvoiceSender
	config   CheckoutConfig
	nowF     func() time.Time
}

// NewCheckoutService はCheckoutServiceを生成する。
func NewCheckoutService(payments repository.PaymentRepository, users UserFinder, invoices InvoiceSender, config CheckoutConfig) *CheckoutService {
	if config.Currency == "" {
		config.Currency = DefaultCurrency
	}
	return &CheckoutService{
		payments: payments,
		users:    users,
		invoices: invoices,
		config:   config,
		nowF:     time.Now,
	}
}

// Checkout はプランからサービスと加盟店を解決し、pendingの支払いを作成して請求書を送る。
// 請求書の送信に失敗した場合、支払いはpendingのまま残り、クリーンアップでfailedになる。
func (s *CheckoutService) Checkout(ctx context.Context, userID, tierID string) (*CheckoutResult, error) {
	tier, err := s.payments.FindTier(ctx, tierID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tier: %w", err)
	}
	if tier == nil {
		return nil, model.ErrTierNotFound
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load buyer: %w", err)
	}
	if user == nil {
		return nil, model.ErrIdentityNotFound
	}

	currency := tier.Currency
	if currency == "" {
		currency = s.config.Currency
	}

	p := &model.Payment{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		MerchantID:  tier.MerchantID,
		ServiceID:   tier.ServiceID,
		TierID:      tier.ID,
		AmountMinor: tier.PriceMinor,
		Currency:    currency,
		CreatedAt:   s.nowF(),
	}

	payload, err := EncodeCorrelation(model.Correlation{
		PaymentID:  p.ID,
		UserID:     p.UserID,
		TierID:     p.TierID,
		ServiceID:  p.ServiceID,
		MerchantID: p.MerchantID,
	})
	if err != nil {
		return nil, err
	}

	if err := s.payments.CreatePending(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create pending payment: %w", err)
	}

	invoice := telegram.Invoice{
		ChatID:      user.TelegramID,
		Title:       truncate(tier.ServiceName+" "+tier.Name, maxInvoiceTitle),
		Description: truncate(fmt.Sprintf("%s / %s（%d日間）", tier.ServiceName, tier.Name, tier.IntervalDays), maxInvoiceDescription),
		Payload:     payload,
		Currency:    currency,
		Prices:      []telegram.LabeledPrice{{Label: truncate(tier.Name, maxInvoiceTitle), Amount: tier.PriceMinor}},
	}
	if err := s.invoices.SendInvoice(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to send invoice: %w", err)
	}

	slog.Info("checkout started",
		slog.String("payment_id", p.ID),
		slog.String("user_id", p.UserID),
		slog.String("tier_id", p.TierID),
		slog.Int64("amount_minor", p.AmountMinor),
		slog.String("currency", p.Currency),
	)

	return &CheckoutResult{Payment: p, Tier: tier, Payload: payload}, nil
}

// truncate は文字単位で切り詰める。
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
