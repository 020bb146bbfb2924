package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/subgate/internal/model"
)

// pgForeignKeyViolation はPostgreSQLの外部キー制約違反のSQLSTATE。
const pgForeignKeyViolation = "23503"

// PostgresMagicTokenRepo はPostgreSQLを使用したマジックトークンリポジトリ。
type PostgresMagicTokenRepo struct {
	db *sql.DB
}

// NewPostgresMagicTokenRepo はPostgresMagicTokenRepoを生成する。
func NewPostgresMagicTokenRepo(db *sql.DB) *PostgresMagicTokenRepo {
	return &PostgresMagicTokenRepo{db: db}
}

// Create はトークンを保存する。
func (r *PostgresMagicTokenRepo) Create(ctx context.Context, token *model.MagicToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO magic_tokens (token, user_id, created_at, expires_at, consumed)
		 VALUES ($1, $2, $3, $4, false)`,
		token.Token, token.UserID, token.CreatedAt, token.ExpiresAt,
	)
	if isForeignKeyViolation(err) {
		return model.ErrIdentityNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to insert magic token: %w", err)
	}
	return nil
}

// Consume は未消費かつ期限内のトークンを消費済みにし、所有者を返す。
// UPDATE ... WHERE consumed = false の1文で行うため、並行する消費のうち成功するのは1つだけ。
func (r *PostgresMagicTokenRepo) Consume(ctx context.Context, token string, now time.Time) model.Lookup[*model.User] {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`WITH consumed AS (
		    UPDATE magic_tokens
		       SET consumed = true
		     WHERE token = $1 AND consumed = false AND expires_at > $2
		 RETURNING user_id
		 )
		 SELECT `+userColumns+` FROM users WHERE id = (SELECT user_id FROM consumed)`,
		token, now,
	))
	if err == sql.ErrNoRows {
		return model.Empty[*model.User]("unavailable")
	}
	if err != nil {
		return model.Failed[*model.User](fmt.Errorf("failed to consume magic token: %w", err))
	}
	return model.Found(user)
}

// isForeignKeyViolation は外部キー制約違反かを判定する。
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgForeignKeyViolation
	}
	return false
}

var _ MagicTokenRepository = (*PostgresMagicTokenRepo)(nil)
