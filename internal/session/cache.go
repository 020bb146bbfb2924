package session

import (
	"context"
	"sync"
	"time"
)

// DefaultStampCacheTTL はスタンプキャッシュの既定の保持期間。
// 失効の伝播はこの時間だけ遅れうるが、Invalidateで即時に反映できる。
const DefaultStampCacheTTL = 60 * time.Second

// StampCache は利用者ID→失効スタンプのTTL付きキャッシュ。
// 複数インスタンス構成では共有キャッシュ実装に差し替える。
type StampCache interface {
	// Get はキャッシュ済みのスタンプを返す。未登録・期限切れの場合はokがfalse。
	Get(ctx context.Context, userID string) (stamp string, ok bool, err error)
	// Set はスタンプをTTL付きで保存する。
	Set(ctx context.Context, userID, stamp string) error
	// Invalidate はエントリを即時に削除する。
	Invalidate(ctx context.Context, userID string) error
}

type stampEntry struct {
	stamp     string
	expiresAt time.Time
}

// MemoryStampCache はプロセス内のStampCache実装。期限切れエントリは参照時に削除する。
type MemoryStampCache struct {
	mu      sync.RWMutex
	entries map[string]stampEntry
	ttl     time.Duration
	nowF    func() time.Time
}

// NewMemoryStampCache はMemoryStampCacheを生成する。ttlが0以下なら既定値を使う。
func NewMemoryStampCache(ttl time.Duration) *MemoryStampCache {
	if ttl <= 0 {
		ttl = DefaultStampCacheTTL
	}
	return &MemoryStampCache{
		entries: make(map[string]stampEntry),
		ttl:     ttl,
		nowF:    time.Now,
	}
}

// Get はキャッシュ済みのスタンプを返す。
func (c *MemoryStampCache) Get(_ context.Context, userID string) (string, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !c.nowF().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[userID]; ok && cur == e {
			delete(c.entries, userID)
		}
		c.mu.Unlock()
		return "", false, nil
	}
	return e.stamp, true, nil
}

// Set はスタンプをTTL付きで保存する。
func (c *MemoryStampCache) Set(_ context.Context, userID, stamp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = stampEntry{stamp: stamp, expiresAt: c.nowF().Add(c.ttl)}
	return nil
}

// Invalidate はエントリを削除する。
func (c *MemoryStampCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}

// Len は保持しているエントリ数を返す。テストおよびメトリクス用。
func (c *MemoryStampCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var _ StampCache = (*MemoryStampCache)(nil)
