package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/subgate/internal/identity"
	"github.com/hitoshi/subgate/internal/middleware"
	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/payment"
	"github.com/hitoshi/subgate/internal/session"
	"github.com/hitoshi/subgate/internal/telegram"
)

// --- モック定義 ---

type mockAuthService struct {
	loginWithMagicTokenFn func(ctx context.Context, token string) (*session.Credential, error)
	loginWithTelegramFn   func(ctx context.Context, initData string) (*session.Credential, error)
	logoutEverywhereFn    func(ctx context.Context, userID string) error
}

func (m *mockAuthService) LoginWithMagicToken(ctx context.Context, token string) (*session.Credential, error) {
	if m.loginWithMagicTokenFn != nil {
		return m.loginWithMagicTokenFn(ctx, token)
	}
	return nil, nil
}

func (m *mockAuthService) LoginWithTelegram(ctx context.Context, initData string) (*session.Credential, error) {
	if m.loginWithTelegramFn != nil {
		return m.loginWithTelegramFn(ctx, initData)
	}
	return nil, nil
}

func (m *mockAuthService) LogoutEverywhere(ctx context.Context, userID string) error {
	if m.logoutEverywhereFn != nil {
		return m.logoutEverywhereFn(ctx, userID)
	}
	return nil
}

type mockUserGetter struct {
	getFn func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockUserGetter) Get(ctx context.Context, userID string) (*model.User, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return &model.User{ID: userID}, nil
}

type mockCheckoutService struct {
	checkoutFn func(ctx context.Context, userID, tierID string) (*payment.CheckoutResult, error)
}

func (m *mockCheckoutService) Checkout(ctx context.Context, userID, tierID string) (*payment.CheckoutResult, error) {
	if m.checkoutFn != nil {
		return m.checkoutFn(ctx, userID, tierID)
	}
	return nil, nil
}

type mockSubscriptionService struct {
	listSubscriptionsFn func(ctx context.Context, userID string) ([]subscriptionResponse, error)
}

func (m *mockSubscriptionService) ListSubscriptions(ctx context.Context, userID string) ([]subscriptionResponse, error) {
	if m.listSubscriptionsFn != nil {
		return m.listSubscriptionsFn(ctx, userID)
	}
	return []subscriptionResponse{}, nil
}

type mockRemoteWiper struct {
	remoteWipeFn func(ctx context.Context, actorID, targetUserID string) error
}

func (m *mockRemoteWiper) RemoteWipe(ctx context.Context, actorID, targetUserID string) error {
	if m.remoteWipeFn != nil {
		return m.remoteWipeFn(ctx, actorID, targetUserID)
	}
	return nil
}

type mockReconciler struct {
	onPreAuthorizationFn  func(ctx context.Context, q telegram.PreCheckoutQuery) error
	onSuccessfulPaymentFn func(ctx context.Context, sp telegram.SuccessfulPayment) (*model.Subscription, error)
}

func (m *mockReconciler) OnPreAuthorization(ctx context.Context, q telegram.PreCheckoutQuery) error {
	if m.onPreAuthorizationFn != nil {
		return m.onPreAuthorizationFn(ctx, q)
	}
	return nil
}

func (m *mockReconciler) OnSuccessfulPayment(ctx context.Context, sp telegram.SuccessfulPayment) (*model.Subscription, error) {
	if m.onSuccessfulPaymentFn != nil {
		return m.onSuccessfulPaymentFn(ctx, sp)
	}
	return nil, nil
}

type mockLinkIssuer struct {
	issueLoginLinkFn func(ctx context.Context, profile model.TelegramProfile) (string, error)
}

func (m *mockLinkIssuer) IssueLoginLink(ctx context.Context, profile model.TelegramProfile) (string, error) {
	if m.issueLoginLinkFn != nil {
		return m.issueLoginLinkFn(ctx, profile)
	}
	return "", nil
}

type mockUserEnsurer struct {
	ensureFromTelegramFn func(ctx context.Context, profile model.TelegramProfile) (*model.User, error)
}

func (m *mockUserEnsurer) EnsureFromTelegram(ctx context.Context, profile model.TelegramProfile) (*model.User, error) {
	if m.ensureFromTelegramFn != nil {
		return m.ensureFromTelegramFn(ctx, profile)
	}
	return &model.User{ID: "user-1", TelegramID: profile.TelegramID, FirstName: profile.FirstName}, nil
}

type sentMessage struct {
	chatID int64
	text   string
}

type mockMessenger struct {
	sent []sentMessage
	err  error
}

func (m *mockMessenger) SendMessage(ctx context.Context, chatID int64, text string) error {
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text})
	return m.err
}

// fixedResolver は常に同じ利用者情報を返す。
type fixedResolver struct {
	id identity.Identity
}

func (f fixedResolver) Resolve(r *http.Request) identity.Identity {
	return f.id
}

// --- ヘルパー ---

func withIdentity(r *http.Request, id identity.Identity) *http.Request {
	return r.WithContext(middleware.ContextWithIdentity(r.Context(), id))
}

func withUserID(r *http.Request, userID string) *http.Request {
	return withIdentity(r, identity.Identity{
		UserID: userID,
		Role:   model.RoleUser,
		Stamp:  "stamp",
		Source: identity.SourceCookie,
	})
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
