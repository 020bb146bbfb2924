// Package user は利用者の作成とプロフィール同期のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/repository"
)

// Service は利用者管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
	nowF     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{userRepo: userRepo, nowF: time.Now}
}

// EnsureFromTelegram はボットまたはミニアプリでの接触時に利用者を確定する。
// 初回はロールuserと新しい失効スタンプで作成し、2回目以降はusernameとfirst_nameだけを同期する。
func (s *Service) EnsureFromTelegram(ctx context.Context, profile model.TelegramProfile) (*model.User, error) {
	if profile.TelegramID == 0 {
		return nil, fmt.Errorf("telegram id is required")
	}

	now := s.nowF()
	candidate := &model.User{
		ID:            uuid.New().String(),
		TelegramID:    profile.TelegramID,
		Username:      profile.Username,
		FirstName:     profile.FirstName,
		Role:          model.RoleUser,
		SecurityStamp: uuid.New().String(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	u, err := s.userRepo.UpsertFromTelegram(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの同期に失敗しました: %w", err)
	}

	if u.ID == candidate.ID {
		slog.Info("new user created",
			slog.String("user_id", u.ID),
			slog.Int64("telegram_id", u.TelegramID),
		)
	}
	return u, nil
}

// Get は利用者を取得する。存在しない場合はUSER_NOT_FOUNDのAPIErrorを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}
