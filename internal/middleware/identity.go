// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/subgate/internal/identity"
	"github.com/hitoshi/subgate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var identityContextKey = contextKey("identity")

// IdentityResolver はリクエストから利用者情報を解決するインターフェース。
type IdentityResolver interface {
	Resolve(r *http.Request) identity.Identity
}

// NewIdentityMiddleware は利用者情報を解決してコンテキストに注入する。
// 匿名でも拒否しない。拒否はRequireAuthenticated/RequireStaffで行う。
func NewIdentityMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := resolver.Resolve(r)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

// RequireAuthenticated は匿名リクエストに401を返す。
// 検証のどの段階で失敗したかは応答に含めない。
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFromContext(r.Context()).IsAnonymous() {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStaff は運営ロール以外に403を返す。匿名は401。
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		if id.IsAnonymous() {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
			return
		}
		if !id.IsStaff() {
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext はコンテキストの利用者情報を返す。未設定なら匿名。
func IdentityFromContext(ctx context.Context) identity.Identity {
	if id, ok := ctx.Value(identityContextKey).(identity.Identity); ok {
		return id
	}
	return identity.Anonymous()
}

// ContextWithIdentity はコンテキストに利用者情報を注入する。
func ContextWithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// UserIDFromContext は認証済みの利用者IDを返す。匿名ならエラー。
func UserIDFromContext(ctx context.Context) (string, error) {
	id := IdentityFromContext(ctx)
	if id.IsAnonymous() {
		return "", fmt.Errorf("user ID not found in context")
	}
	return id.UserID, nil
}
