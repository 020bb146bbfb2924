package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/subgate/internal/model"
)

// --- モック定義 ---

// memoryStore は利用者とスタンプを保持するインメモリのToken Store。
type memoryStore struct {
	mu        sync.Mutex
	users     map[string]*model.User
	reads     int
	failReads error
}

func newMemoryStore(users ...*model.User) *memoryStore {
	s := &memoryStore{users: make(map[string]*model.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memoryStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (s *memoryStore) SecurityStamp(ctx context.Context, userID string) model.Lookup[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failReads != nil {
		return model.Failed[string](s.failReads)
	}
	u, ok := s.users[userID]
	if !ok {
		return model.Empty[string]("identity_not_found")
	}
	return model.Found(u.SecurityStamp)
}

func (s *memoryStore) ReplaceSecurityStamp(ctx context.Context, userID, stamp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrIdentityNotFound
	}
	u.SecurityStamp = stamp
	return nil
}

func (s *memoryStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

type mockRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	hits     int
	misses   int
}

func (m *mockRecorder) RecordSessionVerification(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}

func (m *mockRecorder) RecordStampCache(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

// --- テスト ---

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestEngine(t *testing.T, users ...*model.User) (*Engine, *memoryStore, *MemoryStampCache, *testClock, *mockRecorder) {
	t.Helper()
	store := newMemoryStore(users...)
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cache := NewMemoryStampCache(DefaultStampCacheTTL)
	cache.nowF = clock.Now
	rec := &mockRecorder{}
	engine, err := NewEngine(testSecret, store, store, cache, rec)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	engine.nowF = clock.Now
	return engine, store, cache, clock, rec
}

func ordinaryUser() *model.User {
	return &model.User{ID: "user-1", Role: model.RoleMerchant, MerchantID: "merchant-9", SecurityStamp: "stamp-a"}
}

func staffUser() *model.User {
	return &model.User{ID: "staff-1", Role: model.RoleAdmin, SecurityStamp: "stamp-s"}
}

func TestNewEngine_MissingSecret_ReturnsError(t *testing.T) {
	store := newMemoryStore()
	_, err := NewEngine("", store, store, NewMemoryStampCache(0), nil)
	if !errors.Is(err, model.ErrMissingSigningSecret) {
		t.Errorf("err = %v, want ErrMissingSigningSecret", err)
	}
}

func TestCreateSession_FreshLogin_VerifiesWithMatchingClaims(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t, ordinaryUser())
	ctx := context.Background()

	cred, err := engine.CreateSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	claims := engine.VerifySession(ctx, cred.Token)
	if claims == nil {
		t.Fatal("VerifySession returned nil for fresh credential")
	}
	if claims.UserID() != "user-1" || claims.Role != model.RoleMerchant || claims.MerchantID != "merchant-9" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Stamp != "stamp-a" {
		t.Errorf("Stamp = %q, want stamp-a", claims.Stamp)
	}
}

func TestCreateSession_UnknownIdentity_ReturnsIdentityNotFound(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	_, err := engine.CreateSession(context.Background(), "ghost")
	if !errors.Is(err, model.ErrIdentityNotFound) {
		t.Errorf("err = %v, want ErrIdentityNotFound", err)
	}
}

func TestCreateSession_ReadsRoleFreshAtIssuance(t *testing.T) {
	engine, store, _, _, _ := newTestEngine(t, ordinaryUser())
	ctx := context.Background()

	store.mu.Lock()
	store.users["user-1"].Role = model.RoleSupport
	store.mu.Unlock()

	cred, err := engine.CreateSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if cred.Role != model.RoleSupport {
		t.Errorf("Role = %q, want support", cred.Role)
	}
}

func TestCreateSession_StaffAndOrdinaryExpiry(t *testing.T) {
	engine, _, _, clock, _ := newTestEngine(t, ordinaryUser(), staffUser())
	ctx := context.Background()
	issuedAt := clock.now

	ordinary, err := engine.CreateSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateSession(ordinary) returned error: %v", err)
	}
	staff, err := engine.CreateSession(ctx, "staff-1")
	if err != nil {
		t.Fatalf("CreateSession(staff) returned error: %v", err)
	}

	if !staff.ExpiresAt.Equal(issuedAt.Add(24 * time.Hour)) {
		t.Errorf("staff ExpiresAt = %v, want +24h", staff.ExpiresAt)
	}
	if !ordinary.ExpiresAt.Equal(issuedAt.Add(7 * 24 * time.Hour)) {
		t.Errorf("ordinary ExpiresAt = %v, want +7d", ordinary.ExpiresAt)
	}

	// 23時間後: 両方有効
	clock.now = issuedAt.Add(23 * time.Hour)
	if engine.VerifySession(ctx, staff.Token) == nil {
		t.Error("staff credential should be valid before 24h")
	}
	if engine.VerifySession(ctx, ordinary.Token) == nil {
		t.Error("ordinary credential should be valid before 24h")
	}

	// 25時間後: 運営のみ失効
	clock.now = issuedAt.Add(25 * time.Hour)
	if engine.VerifySession(ctx, staff.Token) != nil {
		t.Error("staff credential should be invalid after 24h")
	}
	if engine.VerifySession(ctx, ordinary.Token) == nil {
		t.Error("ordinary credential should still be valid after 24h")
	}

	// 7日と1秒後: 両方失効
	clock.now = issuedAt.Add(7*24*time.Hour + time.Second)
	if engine.VerifySession(ctx, ordinary.Token) != nil {
		t.Error("ordinary credential should be invalid after 7d")
	}
}

func TestVerifySession_CacheHit_SkipsStoreRead(t *testing.T) {
	engine, store, _, _, rec := newTestEngine(t, ordinaryUser())
	ctx := context.Background()
	cred, _ := engine.CreateSession(ctx, "user-1")

	for i := 0; i < 5; i++ {
		if engine.VerifySession(ctx, cred.Token) == nil {
			t.Fatal("VerifySession returned nil")
		}
	}
	if got := store.readCount(); got != 1 {
		t.Errorf("store reads = %d, want 1", got)
	}
	if rec.misses != 1 || rec.hits != 4 {
		t.Errorf("cache hits/misses = %d/%d, want 4/1", rec.hits, rec.misses)
	}
}

func TestVerifySession_StampChangedWithoutInvalidate_RevokedAfterTTL(t *testing.T) {
	engine, store, _, clock, _ := newTestEngine(t, ordinaryUser())
	ctx := context.Background()
	cred, _ := engine.CreateSession(ctx, "user-1")

	// キャッシュを温める
	if engine.VerifySession(ctx, cred.Token) == nil {
		t.Fatal("VerifySession returned nil")
	}

	// キャッシュを破棄せずにDBだけ書き換える
	_ = store.ReplaceSecurityStamp(ctx, "user-1", "stamp-b")

	clock.now = clock.now.Add(30 * time.Second)
	if engine.VerifySession(ctx, cred.Token) == nil {
		t.Error("within the cache TTL the cached stamp may still validate")
	}

	clock.now = clock.now.Add(31 * time.Second)
	if engine.VerifySession(ctx, cred.Token) != nil {
		t.Error("after the cache TTL the rotated stamp must be observed")
	}
}

func TestVerifySession_StampChangedWithInvalidate_RevokedImmediately(t *testing.T) {
	engine, store, cache, _, rec := newTestEngine(t, ordinaryUser())
	ctx := context.Background()
	cred, _ := engine.CreateSession(ctx, "user-1")
	_ = engine.VerifySession(ctx, cred.Token)

	_ = store.ReplaceSecurityStamp(ctx, "user-1", "stamp-b")
	_ = cache.Invalidate(ctx, "user-1")

	if engine.VerifySession(ctx, cred.Token) != nil {
		t.Error("credential should be revoked immediately after invalidation")
	}
	if rec.outcomes["revoked"] != 1 {
		t.Errorf("outcomes = %v, want revoked=1", rec.outcomes)
	}
}

func TestVerifySession_TamperedOrForeignTokens_ReturnNil(t *testing.T) {
	engine, _, _, clock, _ := newTestEngine(t, ordinaryUser())
	ctx := context.Background()
	cred, _ := engine.CreateSession(ctx, "user-1")

	parts := strings.Split(cred.Token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	otherSigned, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role:  model.RoleSuperAdmin,
		Stamp: "stamp-a",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
	}).SignedString([]byte("another-secret-another-secret-xx"))

	noneSigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		Stamp: "stamp-a",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, raw := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"tampered":     tampered,
		"wrong_secret": otherSigned,
		"alg_none":     noneSigned,
	} {
		if claims := engine.VerifySession(ctx, raw); claims != nil {
			t.Errorf("%s: VerifySession = %+v, want nil", name, claims)
		}
	}
}

func TestCheck_DistinguishesReasons(t *testing.T) {
	engine, store, _, clock, _ := newTestEngine(t, ordinaryUser())
	ctx := context.Background()
	cred, _ := engine.CreateSession(ctx, "user-1")

	store.failReads = errors.New("db down")
	if got := engine.Check(ctx, cred.Token); got.Status != model.LookupFailed {
		t.Errorf("store failure status = %v, want failed", got.Status)
	}
	if engine.VerifySession(ctx, cred.Token) != nil {
		t.Error("store failure must collapse to unauthenticated")
	}
	store.failReads = nil

	clock.now = clock.now.Add(8 * 24 * time.Hour)
	if got := engine.Check(ctx, cred.Token); got.Reason != "expired" {
		t.Errorf("Reason = %q, want expired", got.Reason)
	}
}

func TestCheck_DeletedIdentity_IsEmpty(t *testing.T) {
	engine, store, _, _, _ := newTestEngine(t, ordinaryUser())
	ctx := context.Background()
	cred, _ := engine.CreateSession(ctx, "user-1")

	store.mu.Lock()
	delete(store.users, "user-1")
	store.mu.Unlock()

	if got := engine.Check(ctx, cred.Token); got.Reason != "identity_not_found" {
		t.Errorf("Reason = %q, want identity_not_found", got.Reason)
	}
}

func TestVerifySession_RemoteWipe_InvalidatesAllOutstanding(t *testing.T) {
	engine, store, cache, _, _ := newTestEngine(t, ordinaryUser())
	ctx := context.Background()

	var creds []*Credential
	for i := 0; i < 3; i++ {
		cred, err := engine.CreateSession(ctx, "user-1")
		if err != nil {
			t.Fatalf("CreateSession returned error: %v", err)
		}
		if engine.VerifySession(ctx, cred.Token) == nil {
			t.Fatalf("session %d should be valid before wipe", i)
		}
		creds = append(creds, cred)
	}

	_ = store.ReplaceSecurityStamp(ctx, "user-1", "wiped")
	_ = cache.Invalidate(ctx, "user-1")

	for i, cred := range creds {
		if engine.VerifySession(ctx, cred.Token) != nil {
			t.Errorf("session %d should be invalid after wipe", i)
		}
	}

	fresh, _ := engine.CreateSession(ctx, "user-1")
	if engine.VerifySession(ctx, fresh.Token) == nil {
		t.Error("session issued after wipe should be valid")
	}
}
