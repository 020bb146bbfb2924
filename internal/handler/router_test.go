package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/subgate/internal/auth"
	"github.com/hitoshi/subgate/internal/identity"
	"github.com/hitoshi/subgate/internal/middleware"
	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/session"
)

func newTestRouter(t *testing.T, id identity.Identity, deps *RouterDeps) http.Handler {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(100),
		GeneralBurst:    100,
		HandshakeRate:   rate.Limit(1.0 / 60.0),
		HandshakeBurst:  2,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(rl.Stop)

	if deps == nil {
		deps = &RouterDeps{}
	}
	deps.IdentityResolver = fixedResolver{id: id}
	deps.RateLimiter = rl
	deps.CORSAllowedOrigin = "https://web.telegram.org"
	deps.AuthConfig = AuthHandlerConfig{BaseURL: "https://app.example.com"}
	if deps.AuthService == nil {
		deps.AuthService = &mockAuthService{}
	}
	if deps.CheckoutService == nil {
		deps.CheckoutService = &mockCheckoutService{}
	}
	if deps.SubscriptionService == nil {
		deps.SubscriptionService = &mockSubscriptionService{}
	}
	if deps.RemoteWiper == nil {
		deps.RemoteWiper = &mockRemoteWiper{}
	}
	return NewRouter(deps)
}

func customer() identity.Identity {
	return identity.Identity{UserID: "user-1", Role: model.RoleUser, Stamp: "s", Source: identity.SourceCookie}
}

func TestRouter_Health_NoAuthRequired(t *testing.T) {
	router := newTestRouter(t, identity.Anonymous(), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("security headers should be applied")
	}
}

func TestRouter_API_Anonymous_Returns401(t *testing.T) {
	router := newTestRouter(t, identity.Anonymous(), nil)

	for _, path := range []string{"/api/subscriptions", "/auth/me"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, w.Code)
		}
	}
}

func TestRouter_API_Authenticated_ListsSubscriptions(t *testing.T) {
	router := newTestRouter(t, customer(), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRouter_Checkout_RequiresCSRFToken(t *testing.T) {
	router := newTestRouter(t, customer(), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewBufferString(`{"tier_id":"`+testTierID+`"}`)))
	if w.Code != http.StatusForbidden {
		t.Fatalf("without token: status = %d, want 403", w.Code)
	}

	// トークン取得エンドポイント経由でCookieとヘッダーを揃える
	tw := httptest.NewRecorder()
	router.ServeHTTP(tw, httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil))
	var tok map[string]string
	json.NewDecoder(tw.Body).Decode(&tok)

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewBufferString(`{"tier_id":"not-uuid"}`))
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: tok["token"]})
	req.Header.Set("X-CSRF-Token", tok["token"])
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("with token: status = %d, want 400 from the handler", w.Code)
	}
}

func TestRouter_AdminRevoke_RoleMatrix(t *testing.T) {
	target := "0b7e7f6a-1c2d-4e5f-8a9b-0c1d2e3f4a5b"
	tests := []struct {
		name string
		id   identity.Identity
		want int
	}{
		{"customer", customer(), http.StatusForbidden},
		{"merchant", identity.Identity{UserID: "m", Role: model.RoleMerchant, Source: identity.SourceHeader}, http.StatusForbidden},
		{"support via gateway", identity.Identity{UserID: "s", Role: model.RoleSupport, Source: identity.SourceHeader}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, tt.id, nil)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/users/"+target+"/revoke", nil))

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRouter_Handshake_RateLimitedPerIP(t *testing.T) {
	svc := &mockAuthService{loginWithMagicTokenFn: func(ctx context.Context, token string) (*session.Credential, error) {
		return nil, auth.ErrHandshakeFailed
	}}
	router := newTestRouter(t, identity.Anonymous(), &RouterDeps{AuthService: svc})

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/auth/magic?token=x", nil)
		req.RemoteAddr = "198.51.100.7:5000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes[i] = w.Code
	}

	if codes[0] != http.StatusSeeOther || codes[1] != http.StatusSeeOther || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [303 303 429]", codes)
	}
}

func TestRouter_Webhook_BypassesCSRF(t *testing.T) {
	var got int64
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got++
		w.WriteHeader(http.StatusOK)
	})
	router := newTestRouter(t, identity.Anonymous(), &RouterDeps{Webhook: webhook})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook/telegram", bytes.NewBufferString(`{}`)))

	if w.Code != http.StatusOK || got != 1 {
		t.Errorf("status = %d, calls = %d", w.Code, got)
	}
}

func TestRouter_Metrics_RecordsStatus(t *testing.T) {
	rec := &statusCounter{}
	router := newTestRouter(t, identity.Anonymous(), &RouterDeps{StatusRecorder: rec})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil))

	if rec.counts[http.StatusUnauthorized] != 1 {
		t.Errorf("counts = %v, want one 401", rec.counts)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t, identity.Anonymous(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/checkout", nil)
	req.Header.Set("Origin", "https://web.telegram.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://web.telegram.org" {
		t.Errorf("Allow-Origin = %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRouter_LogoutEverywhere_Flow(t *testing.T) {
	var rotated string
	svc := &mockAuthService{logoutEverywhereFn: func(ctx context.Context, userID string) error {
		rotated = userID
		return nil
	}}
	router := newTestRouter(t, customer(), &RouterDeps{AuthService: svc})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout-everywhere", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "t"})
	req.Header.Set("X-CSRF-Token", "t")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent || rotated != "user-1" {
		t.Errorf("status = %d, rotated = %q", w.Code, rotated)
	}
}

type statusCounter struct {
	counts map[int]int
}

func (s *statusCounter) RecordHTTPStatus(statusCode int) {
	if s.counts == nil {
		s.counts = map[int]int{}
	}
	s.counts[statusCode]++
}
