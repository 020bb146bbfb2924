// Package payment は決済プロバイダーからの非同期通知を支払い・購読の状態遷移に変換する。
//
// 状態遷移は PENDING → SUCCESS のみを扱う。ステータス条件付きの更新が0行だった場合、
// 同じ課金で確定済みなら再送として無視し、それ以外は照合不能な課金として運営者に残す。
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/repository"
	"github.com/hitoshi/subgate/internal/telegram"
)

// 照合結果のメトリクスラベル
const (
	OutcomeSettled        = "settled"
	OutcomeDuplicate      = "duplicate"
	OutcomeInvalidPayload = "invalid_payload"
	OutcomeFailed         = "failed"
	OutcomeUnmatched      = "unmatched_charge"
)

// Notifier は確定後の通知を送るインターフェース。
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// PreCheckoutAnswerer は決済確定前の問い合わせに応答するインターフェース。
type PreCheckoutAnswerer interface {
	AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error
}

// TextSanitizer は通知に埋め込む外部由来の文字列を無害化する。
type TextSanitizer interface {
	Text(raw string) string
}

// Recorder は照合結果を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordSettlement(outcome string)
	RecordNotification(ok bool)
}

// Reconciler は決済通知を処理する。
type Reconciler struct {
	settlements repository.SettlementRepository
	bot         Bot
	sanitizer   TextSanitizer
	recorder    Recorder
	logger      *slog.Logger
	nowF        func() time.Time
}

// Bot はReconcilerが使うボットAPIの部分集合。
type Bot interface {
	Notifier
	PreCheckoutAnswerer
}

// NewReconciler はReconcilerを生成する。recorderはnilでもよい。
func NewReconciler(settlements repository.SettlementRepository, bot Bot, sanitizer TextSanitizer, recorder Recorder, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		settlements: settlements,
		bot:         bot,
		sanitizer:   sanitizer,
		recorder:    recorder,
		logger:      logger,
		nowF:        time.Now,
	}
}

// OnPreAuthorization は取引を継続させるため常に承認を返す。状態は変更しない。
// payloadが解釈できない場合も承認するが、確定時に照合できないため警告を残す。
func (r *Reconciler) OnPreAuthorization(ctx context.Context, q telegram.PreCheckoutQuery) error {
	if _, err := DecodeCorrelation(q.InvoicePayload); err != nil {
		r.logger.Warn("pre-checkout payload cannot be correlated",
			slog.String("query_id", q.ID),
			slog.Int64("telegram_id", q.From.ID),
		)
	}
	if err := r.bot.AnswerPreCheckoutQuery(ctx, q.ID, true, ""); err != nil {
		return fmt.Errorf("failed to approve pre-checkout query: %w", err)
	}
	return nil
}

// OnSuccessfulPayment は決済完了通知を照合し、確定した購読を返す。
// 同じ課金で処理済みの通知は(nil, nil)を返す。対応するpendingの支払いが無い課金は
// model.ErrUnmatchedChargeを返す。確定後の通知送信の失敗は戻り値に影響しない。
// エラーが返った場合も呼び出し側はプロバイダーに成功応答を返すこと。
func (r *Reconciler) OnSuccessfulPayment(ctx context.Context, sp telegram.SuccessfulPayment) (*model.Subscription, error) {
	c, err := DecodeCorrelation(sp.InvoicePayload)
	if err != nil {
		r.record(OutcomeInvalidPayload)
		r.logger.Error("successful payment with undecodable payload",
			slog.String("charge_id", sp.TelegramPaymentChargeID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	charge := repository.ChargeRef{
		ProviderChargeID: sp.ProviderPaymentChargeID,
		TelegramChargeID: sp.TelegramPaymentChargeID,
		AmountMinor:      sp.TotalAmount,
		Currency:         sp.Currency,
	}

	// 照合トランザクションは途中で中断させない
	settlement, err := r.settlements.Settle(context.WithoutCancel(ctx), c, charge, r.nowF())
	if errors.Is(err, model.ErrUnmatchedCharge) {
		// 課金は成立しているが購読には反映できない。状態は変更しない
		r.record(OutcomeUnmatched)
		r.logger.Error("charge matches no pending payment, manual reconciliation required",
			slog.String("payment_id", c.PaymentID),
			slog.String("user_id", c.UserID),
			slog.String("charge_id", sp.TelegramPaymentChargeID),
			slog.String("provider_charge_id", sp.ProviderPaymentChargeID),
			slog.Int64("amount_minor", sp.TotalAmount),
			slog.String("currency", sp.Currency),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if err != nil {
		r.record(OutcomeFailed)
		r.logger.Error("settlement rolled back, manual reconciliation required",
			slog.String("payment_id", c.PaymentID),
			slog.String("user_id", c.UserID),
			slog.String("charge_id", sp.TelegramPaymentChargeID),
			slog.Bool("tier_missing", errors.Is(err, model.ErrTierNotFound)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to settle payment %s: %w", c.PaymentID, err)
	}
	if settlement == nil {
		r.record(OutcomeDuplicate)
		r.logger.Info("payment already settled, callback ignored",
			slog.String("payment_id", c.PaymentID),
			slog.String("charge_id", sp.TelegramPaymentChargeID),
		)
		return nil, nil
	}

	r.record(OutcomeSettled)
	if settlement.Payment.AmountMinor != sp.TotalAmount || settlement.Payment.Currency != sp.Currency {
		r.logger.Warn("settled amount differs from invoice",
			slog.String("payment_id", c.PaymentID),
			slog.Int64("expected_minor", settlement.Payment.AmountMinor),
			slog.Int64("charged_minor", sp.TotalAmount),
			slog.String("expected_currency", settlement.Payment.Currency),
			slog.String("charged_currency", sp.Currency),
		)
	}
	r.logger.Info("payment settled",
		slog.String("payment_id", c.PaymentID),
		slog.String("user_id", c.UserID),
		slog.String("subscription_id", settlement.Subscription.ID),
		slog.Int("renewal_count", settlement.Subscription.RenewalCount),
	)

	// 応答後も送信を続ける。上限はボットクライアントのタイムアウトで決まる
	r.notify(context.WithoutCancel(ctx), settlement)
	return &settlement.Subscription, nil
}

// notify は確定を利用者に知らせる。失敗はログに残すだけで確定済みの状態には影響しない。
func (r *Reconciler) notify(ctx context.Context, s *model.Settlement) {
	text := fmt.Sprintf("お支払いを確認しました。\n<b>%s</b> / %s\n有効期限: %s",
		r.sanitizer.Text(s.ServiceName),
		r.sanitizer.Text(s.TierName),
		s.Subscription.ExpiresAt.UTC().Format("2006-01-02 15:04 UTC"),
	)

	err := r.bot.SendMessage(ctx, s.TelegramID, text)
	if r.recorder != nil {
		r.recorder.RecordNotification(err == nil)
	}
	if err != nil {
		r.logger.Warn("settlement notification failed",
			slog.String("payment_id", s.Payment.ID),
			slog.String("user_id", s.Payment.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Reconciler) record(outcome string) {
	if r.recorder != nil {
		r.recorder.RecordSettlement(outcome)
	}
}
