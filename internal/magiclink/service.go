// Package magiclink はボットからブラウザへログインを引き継ぐ使い捨てトークンを発行・検証する。
package magiclink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/subgate/internal/logger"
	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/repository"
)

const (
	// DefaultTTL はトークンの有効期間。
	DefaultTTL = 10 * time.Minute
	// tokenBytes は乱数のバイト数（256ビット）。
	tokenBytes = 32
)

// UserFinder は発行時の存在確認に必要なインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Recorder は発行・検証結果を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordMagicTokenIssued()
	RecordMagicTokenRedeemed(status string)
}

// Config はServiceの設定。
type Config struct {
	TTL time.Duration
}

// Service はマジックトークンの発行と検証を行う。
type Service struct {
	tokens   repository.MagicTokenRepository
	users    UserFinder
	recorder Recorder
	config   Config
	nowF     func() time.Time
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(tokens repository.MagicTokenRepository, users UserFinder, recorder Recorder, config Config) *Service {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &Service{
		tokens:   tokens,
		users:    users,
		recorder: recorder,
		config:   config,
		nowF:     time.Now,
	}
}

// Issue は利用者に紐付く新しいトークンを発行する。
// 利用者が存在しない場合はmodel.ErrIdentityNotFoundを返す。
// 同じ利用者に対して複数のトークンが同時に有効でもよい。
func (s *Service) Issue(ctx context.Context, userID string) (*model.MagicToken, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.ErrIdentityNotFound
	}

	value, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate magic token: %w", err)
	}

	now := s.nowF()
	token := &model.MagicToken{
		Token:     value,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TTL),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, err
	}

	if s.recorder != nil {
		s.recorder.RecordMagicTokenIssued()
	}
	slog.Info("magic token issued",
		slog.String("user_id", user.ID),
		slog.String("token_prefix", logger.TokenPrefix(value)),
		slog.Time("expires_at", token.ExpiresAt),
	)
	return token, nil
}

// Redeem はトークンを消費し、所有者を返す。
// 存在しない・消費済み・期限切れはEmpty、DB障害はFailedとして区別する。
func (s *Service) Redeem(ctx context.Context, token string) model.Lookup[*model.User] {
	if !wellFormed(token) {
		s.record(model.LookupEmpty)
		return model.Empty[*model.User]("malformed")
	}

	result := s.tokens.Consume(ctx, token, s.nowF())
	s.record(result.Status)

	if result.Status == model.LookupFailed {
		slog.Error("magic token redemption failed",
			slog.String("token_prefix", logger.TokenPrefix(token)),
			slog.String("error", result.Err.Error()),
		)
	}
	return result
}

// Verify はトークンを消費して利用者を返す。失敗時はnilを返す。
func (s *Service) Verify(ctx context.Context, token string) *model.User {
	result := s.Redeem(ctx, token)
	if !result.Ok() {
		return nil
	}
	return result.Value
}

func (s *Service) record(status model.LookupStatus) {
	if s.recorder != nil {
		s.recorder.RecordMagicTokenRedeemed(status.String())
	}
}

// generateToken は256ビットの乱数を16進文字列で返す。
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// wellFormed は固定長の16進文字列かを判定する。DBに問い合わせる前の足切り。
func wellFormed(token string) bool {
	if len(token) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
