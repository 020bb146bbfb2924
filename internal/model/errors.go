package model

import (
	"errors"
	"fmt"
)

// ドメインのセンチネルエラー
var (
	ErrIdentityNotFound     = errors.New("identity not found")
	ErrTierNotFound         = errors.New("tier not found")
	ErrInvalidCorrelation   = errors.New("invalid correlation payload")
	ErrMissingSigningSecret = errors.New("session signing secret is not configured")

	// ErrUnmatchedCharge は課金済みの通知に対応するpendingの支払いが無いことを表す。
	ErrUnmatchedCharge = errors.New("charge does not match a pending payment")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, payment, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated = "UNAUTHENTICATED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeInvalidInitData = "INVALID_INIT_DATA"
	ErrCodeTierNotFound    = "TIER_NOT_FOUND"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeCSRFRejected    = "CSRF_REJECTED"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は未認証エラーを生成する。
// 失敗した検証段階は区別せず、同じ内容を返す。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ボットからログインリンクを再取得してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "運営アカウントでログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidInitDataError はMini-App起動データの検証失敗エラーを生成する。
func NewInvalidInitDataError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInitData,
		Message:  "起動データを検証できませんでした。",
		Category: "auth",
		Action:   "Telegramからミニアプリを開き直してください。",
	}
}

// NewTierNotFoundError はプラン未検出エラーを生成する。
func NewTierNotFoundError(tierID string) *APIError {
	return &APIError{
		Code:     ErrCodeTierNotFound,
		Message:  fmt.Sprintf("指定されたプランが見つかりません: %s", tierID),
		Category: "payment",
		Action:   "プランIDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewCSRFRejectedError はCSRFトークン不一致のエラーを生成する。
func NewCSRFRejectedError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFRejected,
		Message:  "リクエストを検証できませんでした。",
		Category: "auth",
		Action:   "ページを再読み込みしてから操作してください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。原因はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
