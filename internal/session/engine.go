// Package session は署名付きセッション資格情報の発行と検証を提供する。
//
// 検証は2段階で行う。
//  1. HS256署名と有効期限の検証（DBアクセスなし）
//  2. 埋め込まれた失効スタンプと現在のスタンプの比較（StampCache経由）
//
// 2段階目で不一致となった資格情報は、署名と期限が正しくても無効になる。
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/subgate/internal/model"
	"github.com/hitoshi/subgate/internal/repository"
)

const (
	issuer = "subgate"
	// minSecretLength 未満の鍵は起動はするが警告を出す。
	minSecretLength = 32
)

// Claims はセッション資格情報に埋め込むクレーム。
type Claims struct {
	Role       model.Role `json:"role"`
	MerchantID string     `json:"mid,omitempty"`
	Stamp      string     `json:"stamp"`
	jwt.RegisteredClaims
}

// UserID は資格情報の主体を返す。
func (c *Claims) UserID() string {
	return c.Subject
}

// Credential は発行した資格情報とCookie生成に必要な属性。
type Credential struct {
	Token     string
	UserID    string
	Role      model.Role
	ExpiresAt time.Time
}

// UserReader は発行時の最新状態の読み取りに必要なインターフェース。
type UserReader interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Recorder は検証結果を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordSessionVerification(outcome string)
	RecordStampCache(hit bool)
}

// Engine はセッション資格情報の発行と検証を行う。
type Engine struct {
	secret   []byte
	users    UserReader
	stamps   repository.StampRepository
	cache    StampCache
	recorder Recorder
	nowF     func() time.Time
}

// NewEngine はEngineを生成する。署名鍵が空の場合はmodel.ErrMissingSigningSecretを返す。
// recorderはnilでもよい。
func NewEngine(secret string, users UserReader, stamps repository.StampRepository, cache StampCache, recorder Recorder) (*Engine, error) {
	if secret == "" {
		return nil, model.ErrMissingSigningSecret
	}
	if len(secret) < minSecretLength {
		slog.Warn("session signing secret is shorter than recommended",
			slog.Int("length", len(secret)),
			slog.Int("recommended", minSecretLength),
		)
	}
	return &Engine{
		secret:   []byte(secret),
		users:    users,
		stamps:   stamps,
		cache:    cache,
		recorder: recorder,
		nowF:     time.Now,
	}, nil
}

// CreateSession は利用者の最新のロール・スタンプ・加盟店をDBから読み、資格情報を発行する。
// 有効期限はロールのポリシーに従う。
func (e *Engine) CreateSession(ctx context.Context, userID string) (*Credential, error) {
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user for session: %w", err)
	}
	if user == nil {
		return nil, model.ErrIdentityNotFound
	}

	jti, err := generateJTI()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := e.nowF()
	expiresAt := now.Add(model.PolicyFor(user.Role).SessionTTL)
	claims := &Claims{
		Role:       user.Role,
		MerchantID: user.MerchantID,
		Stamp:      user.SecurityStamp,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}

	slog.Info("session created",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
		slog.Time("expires_at", expiresAt),
	)

	return &Credential{
		Token:     signed,
		UserID:    user.ID,
		Role:      user.Role,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifySession は資格情報を検証し、有効ならクレームを返す。
// どの段階で失敗したかは区別せず、nilを返す。
func (e *Engine) VerifySession(ctx context.Context, raw string) *Claims {
	result := e.Check(ctx, raw)
	if !result.Ok() {
		return nil
	}
	return result.Value
}

// Check は検証結果を理由付きで返す。
func (e *Engine) Check(ctx context.Context, raw string) model.Lookup[*Claims] {
	result := e.check(ctx, raw)
	if e.recorder != nil {
		outcome := "valid"
		if !result.Ok() {
			outcome = result.Reason
		}
		e.recorder.RecordSessionVerification(outcome)
	}
	return result
}

func (e *Engine) check(ctx context.Context, raw string) model.Lookup[*Claims] {
	if raw == "" {
		return model.Empty[*Claims]("missing")
	}

	// 1段階目: 署名と有効期限
	claims, err := e.parse(raw)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Empty[*Claims]("expired")
		}
		return model.Empty[*Claims]("invalid")
	}

	// 2段階目: 失効スタンプ
	current := e.currentStamp(ctx, claims.Subject)
	switch current.Status {
	case model.LookupFailed:
		slog.Error("failed to read security stamp",
			slog.String("user_id", claims.Subject),
			slog.String("error", current.Err.Error()),
		)
		return model.Failed[*Claims](current.Err)
	case model.LookupEmpty:
		return model.Empty[*Claims]("identity_not_found")
	}

	if subtle.ConstantTimeCompare([]byte(current.Value), []byte(claims.Stamp)) != 1 {
		return model.Empty[*Claims]("revoked")
	}
	return model.Found(claims)
}

// parse はHS256以外のアルゴリズムを拒否し、期限と発行者を検証する。
func (e *Engine) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return e.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(e.nowF),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// currentStamp はキャッシュを優先して現在のスタンプを返す。
// キャッシュ障害時はDBから直接読む。
func (e *Engine) currentStamp(ctx context.Context, userID string) model.Lookup[string] {
	stamp, ok, err := e.cache.Get(ctx, userID)
	if err != nil {
		slog.Warn("stamp cache read failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	if ok {
		e.recordCache(true)
		return model.Found(stamp)
	}
	e.recordCache(false)

	result := e.stamps.SecurityStamp(ctx, userID)
	if result.Ok() {
		if err := e.cache.Set(ctx, userID, result.Value); err != nil {
			slog.Warn("stamp cache write failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return result
}

func (e *Engine) recordCache(hit bool) {
	if e.recorder != nil {
		e.recorder.RecordStampCache(hit)
	}
}

// generateJTI は16バイトの乱数を16進文字列で返す。
func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
