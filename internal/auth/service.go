// Package auth はアカウント管理とORCID OAuthによる本人確認を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/hitoshi/acadtrust/internal/repository"
	"github.com/hitoshi/acadtrust/internal/token"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcryptは72バイトを超える入力を扱えない。
	maxPasswordLength = 72
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// Service はアカウント登録・ログイン・トークン更新を提供する。
type Service struct {
	userRepo   repository.UserRepository
	issuer     *token.Issuer
	bcryptCost int
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, issuer *token.Issuer) *Service {
	return &Service{
		userRepo:   userRepo,
		issuer:     issuer,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Register は新規ユーザーをGUESTとして登録する。
func (s *Service) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, model.NewValidationError("ユーザー名は3〜32文字の英数字・記号(_ . -)で指定してください")
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return nil, model.NewValidationError("パスワードは8〜72バイトで指定してください")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: string(hash),
		DisplayName:  username,
		TrustLevel:   model.TrustGuest,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewUsernameTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Login はユーザー名とパスワードを照合し、トークンペアを発行する。
// ユーザーが存在しない場合とパスワード不一致は区別しない。
func (s *Service) Login(ctx context.Context, username, password string) (*token.Pair, error) {
	user, err := s.userRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}

	pair, err := s.issuer.IssuePair(PayloadFor(user))
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}
	slog.Info("user logged in", slog.String("user_id", user.ID))
	return pair, nil
}

// Refresh はリフレッシュトークンを検証し、現在の信頼レベルで新しいトークンペアを発行する。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	payload := s.issuer.VerifyKind(refreshToken, token.KindRefresh)
	if payload == nil {
		return nil, model.NewInvalidTokenError()
	}

	// トークン内の信頼レベルは発行時点のスナップショットなので、必ず読み直す
	user, err := s.userRepo.FindByID(ctx, payload.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidTokenError()
	}

	pair, err := s.issuer.IssuePair(PayloadFor(user))
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}
	return pair, nil
}

// GetCurrentUser は指定ユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, model.NewUnauthorizedError()
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// PayloadFor はユーザーの現在の状態からトークンペイロードを作る。
func PayloadFor(user *model.User) token.Payload {
	return token.Payload{
		UserID:     user.ID,
		Username:   user.Username,
		TrustLevel: user.TrustLevel,
	}
}
