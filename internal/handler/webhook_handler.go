package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/telegram"
)

// webhookSecretHeader はsetWebhookのsecret_tokenが送られてくるヘッダー。
const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// PaymentReconciler は決済通知を処理するインターフェース。
type PaymentReconciler interface {
	OnPreAuthorization(ctx context.Context, q telegram.PreCheckoutQuery) error
	OnSuccessfulPayment(ctx context.Context, sp telegram.SuccessfulPayment) (*model.Subscription, error)
}

// LoginLinkIssuer はボットとの対話からマジックリンクを発行するインターフェース。
type LoginLinkIssuer interface {
	IssueLoginLink(ctx context.Context, profile model.TelegramProfile) (string, error)
}

// UserEnsurer は初回接触時に利用者を作成するインターフェース。
type UserEnsurer interface {
	EnsureFromTelegram(ctx context.Context, profile model.TelegramProfile) (*model.User, error)
}

// BotMessenger はチャットへの返信インターフェース。
type BotMessenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// TextEscaper はHTMLパースモードに埋め込む文字列をエスケープする。
type TextEscaper interface {
	Text(s string) string
}

// WebhookConfig はWebhookハンドラーの設定。
type WebhookConfig struct {
	// Secret が空でない場合、ヘッダーの値と一致しないリクエストを拒否する。
	Secret string
}

// WebhookHandler はボットのWebhookを処理する。
// 正当なリクエストには処理結果に関わらず200を返す。
// 200以外を返すとTelegramが同じUpdateを再送し続けるため。
type WebhookHandler struct {
	reconciler PaymentReconciler
	links      LoginLinkIssuer
	users      UserEnsurer
	bot        BotMessenger
	escaper    TextEscaper
	config     WebhookConfig
	logger     *slog.Logger
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(reconciler PaymentReconciler, links LoginLinkIssuer, users UserEnsurer, bot BotMessenger, escaper TextEscaper, config WebhookConfig, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		links:      links,
		users:      users,
		bot:        bot,
		escaper:    escaper,
		config:     config,
		logger:     logger,
	}
}

// ServeHTTP はUpdateを1件処理する。
// POST /webhook/telegram
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.config.Secret != "" {
		got := r.Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.config.Secret)) != 1 {
			h.logger.Warn("webhook secret mismatch")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	var update telegram.Update
	if err := decodeJSON(w, r, &update); err != nil {
		h.logger.Warn("malformed webhook update", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusOK)
		return
	}

	h.dispatch(r.Context(), update)
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) dispatch(ctx context.Context, update telegram.Update) {
	switch {
	case update.PreCheckoutQuery != nil:
		if err := h.reconciler.OnPreAuthorization(ctx, *update.PreCheckoutQuery); err != nil {
			h.logger.Error("pre-checkout answer failed",
				slog.Int64("update_id", update.UpdateID),
				slog.String("error", err.Error()),
			)
		}

	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		// 失敗時の詳細はReconcilerがpayment_id付きで記録する
		if _, err := h.reconciler.OnSuccessfulPayment(ctx, *update.Message.SuccessfulPayment); err != nil {
			h.logger.Error("successful payment not applied",
				slog.Int64("update_id", update.UpdateID),
			)
		}

	case update.Message != nil && update.Message.From != nil:
		h.handleCommand(ctx, update.Message)
	}
}

func (h *WebhookHandler) handleCommand(ctx context.Context, msg *telegram.Message) {
	// プライベートチャット以外ではログインリンクを送らない
	if msg.Chat.Type != "" && msg.Chat.Type != "private" {
		return
	}

	profile := model.TelegramProfile{
		TelegramID: msg.From.ID,
		Username:   msg.From.Username,
		FirstName:  msg.From.FirstName,
	}

	switch command(msg.Text) {
	case "/start":
		user, err := h.users.EnsureFromTelegram(ctx, profile)
		if err != nil {
			h.logger.Error("failed to register user from bot", slog.String("error", err.Error()))
			return
		}
		h.reply(ctx, msg.Chat.ID, "ようこそ、"+h.escaper.Text(user.FirstName)+"さん。\n/login でブラウザ用のログインリンクを発行します。")

	case "/login":
		link, err := h.links.IssueLoginLink(ctx, profile)
		if err != nil {
			h.logger.Error("failed to issue login link", slog.String("error", err.Error()))
			h.reply(ctx, msg.Chat.ID, "ログインリンクを発行できませんでした。しばらくしてから再度お試しください。")
			return
		}
		h.reply(ctx, msg.Chat.ID, "ログインリンク（10分間・1回限り有効）:\n"+h.escaper.Text(link))
	}
}

func (h *WebhookHandler) reply(ctx context.Context, chatID int64, text string) {
	if err := h.bot.SendMessage(ctx, chatID, text); err != nil {
		h.logger.Warn("bot reply failed", slog.String("error", err.Error()))
	}
}

// command はメッセージ先頭のコマンドを返す。"/login@my_bot args" は "/login" になる。
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}
