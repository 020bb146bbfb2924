// Package identity はリクエストから正規化された利用者情報を解決する。
//
// 解決は登録順のStrategyで行う。上流のエッジ層が検証済みのヘッダーを付与している場合はそれを信頼し、
// 無ければCookieの資格情報をセッションエンジンで検証する。
// どのStrategyも成立しない場合はエラーではなく匿名を返す。
package identity

import (
	"context"
	"net/http"

	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/session"
)

// Source は利用者情報の取得元。
type Source string

const (
	SourceHeader    Source = "header"
	SourceCookie    Source = "cookie"
	SourceAnonymous Source = "anonymous"
)

// Identity は解決済みの利用者情報。
type Identity struct {
	UserID     string
	Role       model.Role
	MerchantID string
	Stamp      string
	Source     Source
}

// Anonymous は匿名の利用者情報を返す。
func Anonymous() Identity {
	return Identity{Source: SourceAnonymous}
}

// IsAnonymous は匿名かどうかを返す。
func (i Identity) IsAnonymous() bool {
	return i.UserID == ""
}

// IsStaff は運営ロールかどうかを返す。
func (i Identity) IsStaff() bool {
	return !i.IsAnonymous() && i.Role.IsStaff()
}

// Strategy は1つの取得元から利用者情報を解決する。
// 解決できない場合はokにfalseを返し、次のStrategyに委ねる。
type Strategy interface {
	Resolve(r *http.Request) (id Identity, ok bool)
}

// Resolver はStrategyを登録順に試す。
type Resolver struct {
	strategies []Strategy
}

// NewResolver はResolverを生成する。
func NewResolver(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// Resolve はリクエストの利用者情報を返す。呼び出し側は取得元で分岐しない。
func (res *Resolver) Resolve(r *http.Request) Identity {
	for _, s := range res.strategies {
		if id, ok := s.Resolve(r); ok {
			return id
		}
	}
	return Anonymous()
}

// 上流のエッジ層が付与するヘッダー
const (
	HeaderUserID     = "X-Identity-Id"
	HeaderRole       = "X-Identity-Role"
	HeaderMerchantID = "X-Identity-Merchant"
	HeaderStamp      = "X-Identity-Stamp"
)

// HeaderStrategy は検証済みヘッダーを追加検証なしで信頼する。
// エッジ層がクライアント由来の同名ヘッダーを除去する構成でのみ登録すること。
type HeaderStrategy struct{}

// Resolve は検証済みヘッダーから利用者情報を組み立てる。IDまたはロールが欠けていれば不成立。
func (HeaderStrategy) Resolve(r *http.Request) (Identity, bool) {
	userID := r.Header.Get(HeaderUserID)
	role := model.Role(r.Header.Get(HeaderRole))
	if userID == "" || !role.Valid() {
		return Identity{}, false
	}
	return Identity{
		UserID:     userID,
		Role:       role,
		MerchantID: r.Header.Get(HeaderMerchantID),
		Stamp:      r.Header.Get(HeaderStamp),
		Source:     SourceHeader,
	}, true
}

// Verifier はセッション資格情報の検証に必要なインターフェース。
type Verifier interface {
	VerifySession(ctx context.Context, raw string) *session.Claims
}

// CookieStrategy はCookieの資格情報をセッションエンジンで検証する。
type CookieStrategy struct {
	verifier Verifier
}

// NewCookieStrategy はCookieStrategyを生成する。
func NewCookieStrategy(verifier Verifier) *CookieStrategy {
	return &CookieStrategy{verifier: verifier}
}

// Resolve はCookieの資格情報を検証する。Cookieが無い、または検証に失敗した場合は不成立。
func (s *CookieStrategy) Resolve(r *http.Request) (Identity, bool) {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		return Identity{}, false
	}
	claims := s.verifier.VerifySession(r.Context(), cookie.Value)
	if claims == nil {
		return Identity{}, false
	}
	return Identity{
		UserID:     claims.UserID(),
		Role:       claims.Role,
		MerchantID: claims.MerchantID,
		Stamp:      claims.Stamp,
		Source:     SourceCookie,
	}, true
}
