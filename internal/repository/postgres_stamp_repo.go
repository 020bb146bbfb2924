package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/subgate/internal/model"
)

// PostgresStampRepo はusers.security_stampを読み書きするリポジトリ。
type PostgresStampRepo struct {
	db *sql.DB
}

// NewPostgresStampRepo はPostgresStampRepoを生成する。
func NewPostgresStampRepo(db *sql.DB) *PostgresStampRepo {
	return &PostgresStampRepo{db: db}
}

// SecurityStamp は現在の失効スタンプを返す。
func (r *PostgresStampRepo) SecurityStamp(ctx context.Context, userID string) model.Lookup[string] {
	var stamp string
	err := r.db.QueryRowContext(ctx,
		`SELECT security_stamp FROM users WHERE id = $1`,
		userID,
	).Scan(&stamp)
	if err == sql.ErrNoRows {
		return model.Empty[string]("identity_not_found")
	}
	if err != nil {
		return model.Failed[string](fmt.Errorf("failed to read security stamp: %w", err))
	}
	return model.Found(stamp)
}

// ReplaceSecurityStamp は失効スタンプを書き換える。
func (r *PostgresStampRepo) ReplaceSecurityStamp(ctx context.Context, userID, stamp string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET security_stamp = $2, updated_at = now() WHERE id = $1`,
		userID, stamp,
	)
	if err != nil {
		return fmt.Errorf("failed to replace security stamp: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrIdentityNotFound
	}
	return nil
}

var _ StampRepository = (*PostgresStampRepo)(nil)
