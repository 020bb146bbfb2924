// Package telegram はメッセージングボットとの送受信を提供する。
// Bot APIの呼び出し、Webhookの更新データ型、ミニアプリ起動データの検証を含む。
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultAPIURL はBot APIの既定のベースURL。
	DefaultAPIURL = "https://api.telegram.org"
	// DefaultTimeout は1回の呼び出しのタイムアウト。超過した呼び出しは中断してログに残す。
	DefaultTimeout = 15 * time.Second
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20
)

// Client はBot APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string
	timeout    time.Duration
}

// ClientConfig はClientの設定。
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewClient はClientを生成する。BaseURLとTimeoutは空なら既定値を使う。
func NewClient(httpClient *http.Client, logger *slog.Logger, config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultAPIURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		token:      config.Token,
		timeout:    config.Timeout,
	}
}

// SendMessage はHTMLモードでメッセージを送信する。
// 埋め込む外部由来の文字列は呼び出し側で無害化しておくこと。
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}

// AnswerPreCheckoutQuery は決済確定前の問い合わせに応答する。
// okがfalseの場合はerrorMessageが利用者に表示される。
func (c *Client) AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	payload := map[string]any{
		"pre_checkout_query_id": queryID,
		"ok":                    ok,
	}
	if !ok {
		payload["error_message"] = errorMessage
	}
	return c.call(ctx, "answerPreCheckoutQuery", payload)
}

// SendInvoice は請求書を送信する。
func (c *Client) SendInvoice(ctx context.Context, invoice Invoice) error {
	return c.call(ctx, "sendInvoice", invoice)
}

// call はメソッドを呼び出す。ボットトークンを含むURLはエラーにもログにも出さない。
func (c *Client) call(ctx context.Context, method string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	endpoint := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = redact(err)
		c.logger.Error("bot api call failed",
			slog.String("method", method),
			slog.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var result apiResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Error("bot api returned undecodable response",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("failed to decode %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !result.OK {
		c.logger.Error("bot api rejected call",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("error_code", result.ErrorCode),
			slog.String("description", result.Description),
		)
		return &APIError{Method: method, Code: result.ErrorCode, Description: result.Description}
	}
	return nil
}

// APIError はBot APIがok=falseを返したことを表す。
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s rejected: %d %s", e.Method, e.Code, e.Description)
}

// redact は*url.ErrorからURLを外し、内側のエラーだけを返す。
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
