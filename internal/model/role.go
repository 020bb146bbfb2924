package model

import "time"

// Role は利用者の権限区分。
type Role string

const (
	RoleUser       Role = "user"
	RoleMerchant   Role = "merchant"
	RoleSupport    Role = "support"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

const (
	staffSessionTTL   = 24 * time.Hour
	defaultSessionTTL = 7 * 24 * time.Hour
)

// RolePolicy はロールごとのセッション方針。
type RolePolicy struct {
	SessionTTL time.Duration
	Staff      bool
}

// rolePolicies はセッション発行とCookie属性の両方が参照する唯一の表。
var rolePolicies = map[Role]RolePolicy{
	RoleUser:       {SessionTTL: defaultSessionTTL},
	RoleMerchant:   {SessionTTL: defaultSessionTTL},
	RoleSupport:    {SessionTTL: staffSessionTTL, Staff: true},
	RoleAdmin:      {SessionTTL: staffSessionTTL, Staff: true},
	RoleSuperAdmin: {SessionTTL: staffSessionTTL, Staff: true},
}

// PolicyFor はロールに対応するポリシーを返す。
// 未知のロールは一般利用者として扱う。
func PolicyFor(role Role) RolePolicy {
	if p, ok := rolePolicies[role]; ok {
		return p
	}
	return rolePolicies[RoleUser]
}

// IsStaff はプラットフォーム運営ロールかを返す。
func (r Role) IsStaff() bool {
	return PolicyFor(r).Staff
}

// Valid は定義済みのロールかを返す。
func (r Role) Valid() bool {
	_, ok := rolePolicies[r]
	return ok
}
