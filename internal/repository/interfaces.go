// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/subgate/internal/model"
)

// UserRepository は利用者データの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDの利用者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByTelegramID はTelegramのユーザーIDで利用者を取得する。見つからない場合はnilを返す。
	FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)

	// UpsertFromTelegram は初回接触時にcandidateの内容で利用者を作成し、
	// 既存の場合はusernameとfirst_nameだけを同期する。ID、ロール、スタンプは既存値を維持する。
	// 保存後の利用者を返す。
	UpsertFromTelegram(ctx context.Context, candidate *model.User) (*model.User, error)
}

// StampRepository は失効スタンプの読み書きインターフェース。
type StampRepository interface {
	// SecurityStamp は現在の失効スタンプを返す。
	SecurityStamp(ctx context.Context, userID string) model.Lookup[string]

	// ReplaceSecurityStamp は失効スタンプを書き換える。
	// 利用者が存在しない場合はmodel.ErrIdentityNotFoundを返す。
	ReplaceSecurityStamp(ctx context.Context, userID, stamp string) error
}

// MagicTokenRepository はマジックトークンの永続化インターフェース。
type MagicTokenRepository interface {
	// Create はトークンを保存する。
	// 所有者が存在しない場合はmodel.ErrIdentityNotFoundを返す。
	Create(ctx context.Context, token *model.MagicToken) error

	// Consume は未消費かつ期限内のトークンを1文で消費済みにし、所有者を返す。
	// 同時に呼ばれても成功するのは1回だけ。
	Consume(ctx context.Context, token string, now time.Time) model.Lookup[*model.User]
}

// ChargeRef は決済完了通知に含まれるプロバイダー側の参照情報。
type ChargeRef struct {
	ProviderChargeID string
	TelegramChargeID string
	AmountMinor      int64
	Currency         string
}

// PaymentRepository はチェックアウト時の支払いデータ操作のインターフェース。
type PaymentRepository interface {
	// FindTier はプランをサービス・加盟店情報と共に取得する。見つからない場合はnilを返す。
	FindTier(ctx context.Context, tierID string) (*model.Tier, error)

	// CreatePending はpending状態の支払いレコードを作成する。
	CreatePending(ctx context.Context, payment *model.Payment) error
}

// SettlementRepository は支払いと購読を1トランザクションで確定するインターフェース。
type SettlementRepository interface {
	// Settle は照合情報に一致するpendingの支払いをsuccessへ遷移させ、
	// 同じトランザクション内で(user, service)の購読を作成または更新する。
	// 同じ課金で確定済みの支払いへの再送は(nil, nil)を返す。
	// 期限切れ・存在しない・照合情報が一致しない支払いへの課金はmodel.ErrUnmatchedChargeを返す。
	// 途中で失敗した場合は全体をロールバックする。
	Settle(ctx context.Context, c model.Correlation, charge ChargeRef, now time.Time) (*model.Settlement, error)
}

// SubscriptionRepository は購読データの参照インターフェース。
type SubscriptionRepository interface {
	// ListByUserID は利用者の購読一覧を有効期限の降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Subscription, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}
