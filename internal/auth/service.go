// Package auth はログインの組み立て（マジックリンク、ミニアプリ起動データ）と
// ログアウト・リモートワイプを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/session"
	"github.com/hitoshi/subgate/internal/telegram"
)

// ErrHandshakeFailed はログインに失敗したことを表す。
// 失敗した段階は区別しない。利用者には「ハンドシェイクをやり直す」ことだけを伝える。
var ErrHandshakeFailed = errors.New("handshake failed")

// SessionIssuer は資格情報の発行インターフェース。
type SessionIssuer interface {
	CreateSession(ctx context.Context, userID string) (*session.Credential, error)
}

// MagicLinks はマジックトークンの発行と検証のインターフェース。
type MagicLinks interface {
	Issue(ctx context.Context, userID string) (*model.MagicToken, error)
	Verify(ctx context.Context, token string) *model.User
}

// StampRotator は失効スタンプのローテーションのインターフェース。
type StampRotator interface {
	Rotate(ctx context.Context, userID, reason string) (string, error)
}

// UserEnsurer はTelegramのプロフィールから利用者を確定するインターフェース。
type UserEnsurer interface {
	EnsureFromTelegram(ctx context.Context, profile model.TelegramProfile) (*model.User, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BaseURL        string
	BotToken       string
	InitDataMaxAge time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	sessions SessionIssuer
	links    MagicLinks
	rotator  StampRotator
	users    UserEnsurer
	config   ServiceConfig
	nowF     func() time.Time
}

// NewService はServiceを生成する。
func NewService(sessions SessionIssuer, links MagicLinks, rotator StampRotator, users UserEnsurer, config ServiceConfig) *Service {
	if config.InitDataMaxAge <= 0 {
		config.InitDataMaxAge = telegram.DefaultInitDataMaxAge
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Service{
		sessions: sessions,
		links:    links,
		rotator:  rotator,
		users:    users,
		config:   config,
		nowF:     time.Now,
	}
}

// IssueLoginLink はボットとの対話から利用者を確定し、ブラウザ用のマジックリンクを返す。
func (s *Service) IssueLoginLink(ctx context.Context, profile model.TelegramProfile) (string, error) {
	user, err := s.users.EnsureFromTelegram(ctx, profile)
	if err != nil {
		return "", err
	}
	token, err := s.links.Issue(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to issue magic token: %w", err)
	}
	return s.config.BaseURL + "/auth/magic?token=" + url.QueryEscape(token.Token), nil
}

// LoginWithMagicToken はマジックトークンを消費して資格情報を発行する。
func (s *Service) LoginWithMagicToken(ctx context.Context, token string) (*session.Credential, error) {
	user := s.links.Verify(ctx, token)
	if user == nil {
		return nil, ErrHandshakeFailed
	}
	return s.createSession(ctx, user.ID, "magic_link")
}

// LoginWithTelegram はミニアプリの起動データを検証し、利用者を確定して資格情報を発行する。
func (s *Service) LoginWithTelegram(ctx context.Context, initData string) (*session.Credential, error) {
	data, err := telegram.VerifyInitData(initData, s.config.BotToken, s.config.InitDataMaxAge, s.nowF())
	if err != nil {
		slog.Warn("init data rejected", slog.String("error", err.Error()))
		return nil, ErrHandshakeFailed
	}

	user, err := s.users.EnsureFromTelegram(ctx, model.TelegramProfile{
		TelegramID: data.User.ID,
		Username:   data.User.Username,
		FirstName:  data.User.FirstName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sync user: %w", err)
	}
	return s.createSession(ctx, user.ID, "init_data")
}

// LogoutEverywhere は呼び出し元の全セッションを無効にする。
func (s *Service) LogoutEverywhere(ctx context.Context, userID string) error {
	if _, err := s.rotator.Rotate(ctx, userID, "logout_everywhere"); err != nil {
		return fmt.Errorf("failed to logout everywhere: %w", err)
	}
	return nil
}

// RemoteWipe は運営者が対象利用者の全セッションを無効にする。
func (s *Service) RemoteWipe(ctx context.Context, actorID, targetUserID string) error {
	if _, err := s.rotator.Rotate(ctx, targetUserID, "remote_wipe"); err != nil {
		return err
	}
	slog.Info("remote wipe executed",
		slog.String("actor_id", actorID),
		slog.String("target_user_id", targetUserID),
	)
	return nil
}

func (s *Service) createSession(ctx context.Context, userID, method string) (*session.Credential, error) {
	cred, err := s.sessions.CreateSession(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrIdentityNotFound) {
			return nil, ErrHandshakeFailed
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	slog.Info("user logged in",
		slog.String("user_id", userID),
		slog.String("method", method),
	)
	return cred, nil
}
