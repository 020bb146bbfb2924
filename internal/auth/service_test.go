package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/session"
)

// --- モック定義 ---

type mockSessions struct {
	createSessionFn func(ctx context.Context, userID string) (*session.Credential, error)
	created         []string
}

func (m *mockSessions) CreateSession(ctx context.Context, userID string) (*session.Credential, error) {
	m.created = append(m.created, userID)
	if m.createSessionFn != nil {
		return m.createSessionFn(ctx, userID)
	}
	return &session.Credential{Token: "jwt-" + userID, UserID: userID, Role: model.RoleUser}, nil
}

type mockLinks struct {
	issueFn  func(ctx context.Context, userID string) (*model.MagicToken, error)
	verifyFn func(ctx context.Context, token string) *model.User
}

func (m *mockLinks) Issue(ctx context.Context, userID string) (*model.MagicToken, error) {
	return m.issueFn(ctx, userID)
}

func (m *mockLinks) Verify(ctx context.Context, token string) *model.User {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, token)
	}
	return nil
}

type mockRotator struct {
	rotateFn func(ctx context.Context, userID, reason string) (string, error)
	calls    []string
}

func (m *mockRotator) Rotate(ctx context.Context, userID, reason string) (string, error) {
	m.calls = append(m.calls, userID+":"+reason)
	if m.rotateFn != nil {
		return m.rotateFn(ctx, userID, reason)
	}
	return "new-stamp", nil
}

type mockUsers struct {
	ensureFn func(ctx context.Context, profile model.TelegramProfile) (*model.User, error)
}

func (m *mockUsers) EnsureFromTelegram(ctx context.Context, profile model.TelegramProfile) (*model.User, error) {
	if m.ensureFn != nil {
		return m.ensureFn(ctx, profile)
	}
	return &model.User{ID: "user-" + strconv.FormatInt(profile.TelegramID, 10), TelegramID: profile.TelegramID}, nil
}

// --- テスト ---

const testBotToken = "123456:TEST"

// signInitData はミニアプリの起動データを組み立てて署名する。
func signInitData(t *testing.T, botToken string, authDate time.Time, user string) string {
	t.Helper()
	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Set("user", user)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func newTestService(sessions *mockSessions, links *mockLinks, rotator *mockRotator, users *mockUsers) *Service {
	return NewService(sessions, links, rotator, users, ServiceConfig{
		BaseURL:  "https://app.example.com/",
		BotToken: testBotToken,
	})
}

func TestIssueLoginLink_BuildsMagicURL(t *testing.T) {
	links := &mockLinks{issueFn: func(ctx context.Context, userID string) (*model.MagicToken, error) {
		if userID != "user-42" {
			t.Errorf("userID = %q, want user-42", userID)
		}
		return &model.MagicToken{Token: "abc123"}, nil
	}}
	svc := newTestService(&mockSessions{}, links, &mockRotator{}, &mockUsers{})

	link, err := svc.IssueLoginLink(context.Background(), model.TelegramProfile{TelegramID: 42})
	if err != nil {
		t.Fatalf("IssueLoginLink returned error: %v", err)
	}
	if link != "https://app.example.com/auth/magic?token=abc123" {
		t.Errorf("link = %q", link)
	}
}

func TestLoginWithMagicToken_Valid_CreatesSession(t *testing.T) {
	links := &mockLinks{verifyFn: func(ctx context.Context, token string) *model.User {
		return &model.User{ID: "u1"}
	}}
	sessions := &mockSessions{}
	svc := newTestService(sessions, links, &mockRotator{}, &mockUsers{})

	cred, err := svc.LoginWithMagicToken(context.Background(), "tok")
	if err != nil {
		t.Fatalf("LoginWithMagicToken returned error: %v", err)
	}
	if cred.UserID != "u1" || len(sessions.created) != 1 {
		t.Errorf("cred = %+v, created = %v", cred, sessions.created)
	}
}

func TestLoginWithMagicToken_Rejected_ReturnsHandshakeFailed(t *testing.T) {
	sessions := &mockSessions{}
	svc := newTestService(sessions, &mockLinks{}, &mockRotator{}, &mockUsers{})

	if _, err := svc.LoginWithMagicToken(context.Background(), "used"); !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("err = %v, want ErrHandshakeFailed", err)
	}
	if len(sessions.created) != 0 {
		t.Error("no session should be created")
	}
}

func TestLoginWithMagicToken_IdentityGone_ReturnsHandshakeFailed(t *testing.T) {
	links := &mockLinks{verifyFn: func(ctx context.Context, token string) *model.User { return &model.User{ID: "u1"} }}
	sessions := &mockSessions{createSessionFn: func(ctx context.Context, userID string) (*session.Credential, error) {
		return nil, model.ErrIdentityNotFound
	}}
	svc := newTestService(sessions, links, &mockRotator{}, &mockUsers{})

	if _, err := svc.LoginWithMagicToken(context.Background(), "tok"); !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("err = %v, want ErrHandshakeFailed", err)
	}
}

func TestLoginWithTelegram_ValidInitData_SyncsUserAndCreatesSession(t *testing.T) {
	var synced model.TelegramProfile
	users := &mockUsers{ensureFn: func(ctx context.Context, profile model.TelegramProfile) (*model.User, error) {
		synced = profile
		return &model.User{ID: "u-77"}, nil
	}}
	sessions := &mockSessions{}
	svc := newTestService(sessions, &mockLinks{}, &mockRotator{}, users)

	raw := signInitData(t, testBotToken, time.Now().Add(-time.Minute), `{"id":77,"first_name":"Ann","username":"ann"}`)
	cred, err := svc.LoginWithTelegram(context.Background(), raw)
	if err != nil {
		t.Fatalf("LoginWithTelegram returned error: %v", err)
	}
	if cred.UserID != "u-77" {
		t.Errorf("UserID = %q", cred.UserID)
	}
	if synced.TelegramID != 77 || synced.Username != "ann" || synced.FirstName != "Ann" {
		t.Errorf("synced profile = %+v", synced)
	}
}

func TestLoginWithTelegram_ForgedInitData_ReturnsHandshakeFailed(t *testing.T) {
	sessions := &mockSessions{}
	svc := newTestService(sessions, &mockLinks{}, &mockRotator{}, &mockUsers{})

	raw := signInitData(t, "another:bot", time.Now(), `{"id":77,"first_name":"Ann"}`)
	if _, err := svc.LoginWithTelegram(context.Background(), raw); !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("err = %v, want ErrHandshakeFailed", err)
	}
	if len(sessions.created) != 0 {
		t.Error("no session should be created")
	}
}

func TestLogoutEverywhere_RotatesCallerStamp(t *testing.T) {
	rotator := &mockRotator{}
	svc := newTestService(&mockSessions{}, &mockLinks{}, rotator, &mockUsers{})

	if err := svc.LogoutEverywhere(context.Background(), "u1"); err != nil {
		t.Fatalf("LogoutEverywhere returned error: %v", err)
	}
	if len(rotator.calls) != 1 || rotator.calls[0] != "u1:logout_everywhere" {
		t.Errorf("calls = %v", rotator.calls)
	}
}

func TestRemoteWipe_RotatesTargetStamp(t *testing.T) {
	rotator := &mockRotator{}
	svc := newTestService(&mockSessions{}, &mockLinks{}, rotator, &mockUsers{})

	if err := svc.RemoteWipe(context.Background(), "admin-1", "victim"); err != nil {
		t.Fatalf("RemoteWipe returned error: %v", err)
	}
	if len(rotator.calls) != 1 || rotator.calls[0] != "victim:remote_wipe" {
		t.Errorf("calls = %v", rotator.calls)
	}
}

func TestRemoteWipe_UnknownTarget_PropagatesIdentityNotFound(t *testing.T) {
	rotator := &mockRotator{rotateFn: func(ctx context.Context, userID, reason string) (string, error) {
		return "", model.ErrIdentityNotFound
	}}
	svc := newTestService(&mockSessions{}, &mockLinks{}, rotator, &mockUsers{})

	if err := svc.RemoteWipe(context.Background(), "admin-1", "ghost"); !errors.Is(err, model.ErrIdentityNotFound) {
		t.Errorf("err = %v, want ErrIdentityNotFound", err)
	}
}
