package model

import "time"

// PaymentStatus は支払いレコードの状態。
// 照合処理が行う遷移は pending → success のみ。
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentSuccess  PaymentStatus = "success"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Payment は決済プロバイダーとのやり取り1回分の記録。
type Payment struct {
	ID               string
	UserID           string
	MerchantID       string
	ServiceID        string
	TierID           string
	AmountMinor      int64
	Currency         string
	Status           PaymentStatus
	ProviderChargeID string
	TelegramChargeID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SettledAt        *time.Time
}

// SubscriptionStatus は購読の状態。
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPending   SubscriptionStatus = "pending"
)

// Subscription は利用者とサービスの組ごとに1件だけ存在する購読。
type Subscription struct {
	ID           string
	UserID       string
	ServiceID    string
	TierID       string
	MerchantID   string
	Status       SubscriptionStatus
	ExpiresAt    time.Time
	RenewalCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// 一覧でのみ結合して埋める
	ServiceName string
	TierName    string
}

// Tier はサービスの料金プラン。加盟店とサービス名を結合した読み取り専用ビュー。
type Tier struct {
	ID           string
	ServiceID    string
	MerchantID   string
	Name         string
	ServiceName  string
	PriceMinor   int64
	Currency     string
	IntervalDays int
}

// Interval は1回の支払いで延長される期間を返す。
func (t *Tier) Interval() time.Duration {
	return time.Duration(t.IntervalDays) * 24 * time.Hour
}

// Correlation はチェックアウト時に付与し、決済完了通知で戻ってくる照合情報。
type Correlation struct {
	PaymentID  string
	UserID     string
	TierID     string
	ServiceID  string
	MerchantID string
}

// Settlement は照合トランザクションが確定した結果。
type Settlement struct {
	Payment      Payment
	Subscription Subscription
	TierName     string
	ServiceName  string
	TelegramID   int64
}
