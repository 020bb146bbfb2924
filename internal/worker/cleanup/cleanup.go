// Package cleanup は認証・決済データの定期メンテナンスジョブを提供する。
// 期限切れから保持期間を過ぎたマジックトークンの削除と、
// 確定されないまま放置されたpendingの支払いのfailedへの遷移を行う。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder は削除・遷移件数を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordCleanup(kind string, rows int64)
}

const (
	KindMagicTokens     = "magic_tokens"
	KindPendingPayments = "pending_payments"
)

const (
	purgeTokensQuery = `DELETE FROM magic_tokens WHERE expires_at < $1`

	// settled_atは設定しない。failedは決済されなかった終端状態。
	expirePaymentsQuery = `
		UPDATE payments SET status = 'failed', updated_at = $2
		WHERE status = 'pending' AND created_at < $1`
)

// CleanupJob は定期メンテナンスジョブ。
// どちらの処理も冪等で、対象がなくてもエラーにならない。
type CleanupJob struct {
	db       Executor
	logger   *slog.Logger
	recorder Recorder
	nowF     func() time.Time

	TokenRetention    time.Duration // 期限切れトークンを残しておく期間（デフォルト: 24h）
	PendingPaymentTTL time.Duration // pendingのまま許容する期間（デフォルト: 24h）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		db:                db,
		logger:            logger,
		recorder:          recorder,
		nowF:              time.Now,
		TokenRetention:    24 * time.Hour,
		PendingPaymentTTL: 24 * time.Hour,
	}
}

// Run は両方の処理を実行する。片方が失敗してももう片方は実行する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.nowF()

	tokenErr := j.PurgeMagicTokens(ctx)
	paymentErr := j.ExpirePendingPayments(ctx)

	j.logger.Info("cleanup job finished",
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		slog.Bool("ok", tokenErr == nil && paymentErr == nil),
	)

	return errors.Join(tokenErr, paymentErr)
}

// PurgeMagicTokens は期限切れからTokenRetentionを過ぎたトークンを削除する。
// 消費済みかどうかは問わない。
func (j *CleanupJob) PurgeMagicTokens(ctx context.Context) error {
	cutoff := j.nowF().Add(-j.TokenRetention)
	rows, err := j.exec(ctx, KindMagicTokens, purgeTokensQuery, cutoff)
	if err != nil {
		return err
	}
	j.logger.Info("expired magic tokens purged",
		slog.Int64("deleted_count", rows),
		slog.Duration("retention", j.TokenRetention),
	)
	return nil
}

// ExpirePendingPayments はPendingPaymentTTLより古いpendingの支払いをfailedにする。
// 後から完了通知が届いてもpendingではないため確定されない。
func (j *CleanupJob) ExpirePendingPayments(ctx context.Context) error {
	now := j.nowF()
	rows, err := j.exec(ctx, KindPendingPayments, expirePaymentsQuery, now.Add(-j.PendingPaymentTTL), now)
	if err != nil {
		return err
	}
	if rows > 0 {
		j.logger.Warn("stale pending payments marked as failed",
			slog.Int64("failed_count", rows),
			slog.Duration("pending_ttl", j.PendingPaymentTTL),
		)
	}
	return nil
}

func (j *CleanupJob) exec(ctx context.Context, kind, query string, args ...any) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("cleanup query failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to run %s cleanup: %w", kind, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get %s cleanup count: %w", kind, err)
	}
	if j.recorder != nil {
		j.recorder.RecordCleanup(kind, rows)
	}
	return rows, nil
}
