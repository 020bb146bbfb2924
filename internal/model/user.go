// Package model はドメインモデルを定義する。
package model

import "time"

// User はボット経由で初回接触時に作成される利用者を表す。
// 物理削除は行わない。
type User struct {
	ID         string
	TelegramID int64
	Username   string
	FirstName  string
	Role       Role
	MerchantID string // 空文字列は加盟店に紐付かないことを示す
	// SecurityStamp は失効スタンプ。変更されると既存の全セッションが無効になる。
	SecurityStamp string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasMerchant は加盟店に紐付いているかを返す。
func (u *User) HasMerchant() bool {
	return u.MerchantID != ""
}

// TelegramProfile はボットのUpdateから得られるプロフィール情報。
// 初回接触時の作成とプロフィール同期に使用する。
type TelegramProfile struct {
	TelegramID int64
	Username   string
	FirstName  string
}

// MagicToken はボットからブラウザへセッションを引き継ぐための使い捨てトークン。
type MagicToken struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Consumed  bool
}

// IsExpired は指定時刻において期限切れかを返す。
func (t *MagicToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
