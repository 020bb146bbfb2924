package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/subgate/internal/model"
)

const userColumns = `id, telegram_id, username, first_name, role, COALESCE(merchant_id::text, ''), security_stamp, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用した利用者リポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDの利用者を取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByTelegramID はTelegramのユーザーIDで利用者を取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_id = $1`,
		telegramID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by telegram ID: %w", err)
	}
	return user, nil
}

// UpsertFromTelegram は初回接触時に利用者を作成し、既存の場合はプロフィールを同期する。
func (r *PostgresUserRepo) UpsertFromTelegram(ctx context.Context, candidate *model.User) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, telegram_id, username, first_name, role, security_stamp, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (telegram_id) DO UPDATE
		    SET username = EXCLUDED.username,
		        first_name = EXCLUDED.first_name,
		        updated_at = EXCLUDED.updated_at
		 RETURNING `+userColumns,
		candidate.ID, candidate.TelegramID, candidate.Username, candidate.FirstName,
		string(candidate.Role), candidate.SecurityStamp, candidate.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

// scanUser はuserColumnsの並びで1行を読み取る。
func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var role string
	err := row.Scan(
		&user.ID, &user.TelegramID, &user.Username, &user.FirstName, &role,
		&user.MerchantID, &user.SecurityStamp, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
