// Package revocation は失効スタンプのローテーション（全端末ログアウト・リモートワイプ）を提供する。
package revocation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/subgate/internal/repository"
	"github.com/hitoshi/subgate/internal/session"
)

// Recorder はローテーションを記録するメトリクスのインターフェース。
type Recorder interface {
	RecordRevocation(reason string)
}

// Authority は失効スタンプを書き換え、検証キャッシュを同期的に破棄する。
type Authority struct {
	stamps   repository.StampRepository
	cache    session.StampCache
	recorder Recorder
	newStamp func() string
}

// NewAuthority はAuthorityを生成する。recorderはnilでもよい。
func NewAuthority(stamps repository.StampRepository, cache session.StampCache, recorder Recorder) *Authority {
	return &Authority{
		stamps:   stamps,
		cache:    cache,
		recorder: recorder,
		newStamp: func() string { return uuid.New().String() },
	}
}

// Rotate は新しいスタンプを書き込み、キャッシュを破棄してから返す。
// 戻った時点で、ローテーション前に発行された資格情報はどのインスタンスでも検証に通らない。
// reasonはログとメトリクス用のラベル（logout_everywhere, remote_wipe など）。
func (a *Authority) Rotate(ctx context.Context, userID, reason string) (string, error) {
	stamp := a.newStamp()

	if err := a.stamps.ReplaceSecurityStamp(ctx, userID, stamp); err != nil {
		return "", fmt.Errorf("failed to rotate security stamp: %w", err)
	}

	// DBの書き換え後に破棄する。逆順だと古いスタンプが再びキャッシュされうる。
	if err := a.cache.Invalidate(ctx, userID); err != nil {
		slog.Error("stamp cache invalidation failed after rotation",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("failed to invalidate stamp cache: %w", err)
	}

	if a.recorder != nil {
		a.recorder.RecordRevocation(reason)
	}
	slog.Info("security stamp rotated",
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)
	return stamp, nil
}
