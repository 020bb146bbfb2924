package session

import (
	"net/http"

	"github.com/hitoshi/subgate/internal/model"
)

// CookieName はセッション資格情報を運ぶCookieの名前。
const CookieName = "session_token"

// CookieConfig はセッションCookieの共通属性。
type CookieConfig struct {
	Domain string
}

// CookieMetadata はロールに応じたCookieの寿命を返す。
// CreateSessionと同じRolePolicyを参照するため、資格情報の期限とずれない。
func CookieMetadata(role model.Role) (maxAgeSeconds int) {
	return int(model.PolicyFor(role).SessionTTL.Seconds())
}

// NewCookie は資格情報からセッションCookieを生成する。
// ミニアプリはTelegramのアプリ内ブラウザからクロスサイトで開かれるため、
// SameSite=NoneとSecureを常に付与する。
func (c CookieConfig) NewCookie(cred *Credential) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    cred.Token,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   CookieMetadata(cred.Role),
		Expires:  cred.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}

// ExpiredCookie はセッションCookieを削除するためのCookieを生成する。
func (c CookieConfig) ExpiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}
