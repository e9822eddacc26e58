// Package moderation は信頼レベルに基づくコメントの承認ゲートを提供する。
package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/acadtrust/internal/metrics"
	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/hitoshi/acadtrust/internal/repository"
)

const (
	// MaxBodyLength はコメント本文の最大文字数（サニタイズ後）。
	MaxBodyLength = 10000

	defaultPendingLimit = 50
	maxPendingLimit     = 200
)

// IsAutoApproved は信頼レベルのコメントが承認待ちを経ずに公開されるかを返す。
func IsAutoApproved(level model.TrustLevel) bool {
	return level != model.TrustGuest
}

// Sanitizer はコメント本文の無害化を行う。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Config はモデレーションの設定。
type Config struct {
	// ReviewerMinTrust は承認操作に必要な最低信頼レベル。空の場合はORCID。
	ReviewerMinTrust model.TrustLevel
}

// Service はコメントの作成と承認を行う。
type Service struct {
	comments    repository.CommentRepository
	users       repository.UserRepository
	sanitizer   Sanitizer
	minReviewer model.TrustLevel
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	cfg Config,
	comments repository.CommentRepository,
	users repository.UserRepository,
	sanitizer Sanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	minReviewer := cfg.ReviewerMinTrust
	if !minReviewer.Valid() {
		minReviewer = model.TrustORCID
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		comments:    comments,
		users:       users,
		sanitizer:   sanitizer,
		minReviewer: minReviewer,
		metrics:     collector,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateComment は投稿者の現在の信頼レベルでコメントを作成する。
// 信頼レベルと承認状態は作成時点のスナップショットとして保存する。
func (s *Service) CreateComment(ctx context.Context, authorID, postID, body string) (*model.Comment, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, model.NewValidationError("投稿IDが指定されていません")
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(body))
	if clean == "" {
		return nil, model.NewValidationError("コメント本文が空です")
	}
	if utf8.RuneCountInString(clean) > MaxBodyLength {
		return nil, model.NewValidationError(fmt.Sprintf("コメント本文は%d文字以内で入力してください", MaxBodyLength))
	}

	author, err := s.users.FindByID(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("failed to find author: %w", err)
	}
	if author == nil {
		return nil, model.NewUserNotFoundError()
	}

	comment := &model.Comment{
		ID:         uuid.New().String(),
		PostID:     postID,
		AuthorID:   author.ID,
		Body:       clean,
		TrustLevel: author.TrustLevel,
		IsApproved: IsAutoApproved(author.TrustLevel),
		CreatedAt:  s.now(),
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	s.metrics.RecordCommentCreated(comment.IsApproved)
	s.logger.InfoContext(ctx, "comment created",
		slog.String("comment_id", comment.ID),
		slog.String("author_id", author.ID),
		slog.String("trust_level", string(comment.TrustLevel)),
		slog.Bool("approved", comment.IsApproved),
	)
	return comment, nil
}

// ListPending は承認待ちのコメントを古い順に返す。
// limitが0以下の場合は50件、上限は200件。
func (s *Service) ListPending(ctx context.Context, limit int) ([]*model.Comment, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	if limit > maxPendingLimit {
		limit = maxPendingLimit
	}
	comments, err := s.comments.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending comments: %w", err)
	}
	return comments, nil
}

// CanReview はユーザーが承認操作を行えるかを返す。
func (s *Service) CanReview(reviewer *model.User) bool {
	return reviewer != nil && reviewer.TrustLevel.AtLeast(s.minReviewer)
}

// AuthorizeReviewer はレビュアーの現在の信頼レベルを確認する。
func (s *Service) AuthorizeReviewer(ctx context.Context, reviewerID string) (*model.User, error) {
	reviewer, err := s.users.FindByID(ctx, reviewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find reviewer: %w", err)
	}
	if reviewer == nil {
		return nil, model.NewUserNotFoundError()
	}
	if !s.CanReview(reviewer) {
		return nil, model.NewForbiddenError()
	}
	return reviewer, nil
}

// Approve は承認待ちのコメントを承認する。承認は一方向で、承認済みのコメントはそのまま返す。
func (s *Service) Approve(ctx context.Context, reviewerID, commentID string) (*model.Comment, error) {
	reviewer, err := s.AuthorizeReviewer(ctx, reviewerID)
	if err != nil {
		return nil, err
	}

	approved, err := s.comments.Approve(ctx, commentID, reviewer.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to approve comment: %w", err)
	}
	if approved != nil {
		s.logger.InfoContext(ctx, "comment approved",
			slog.String("comment_id", approved.ID),
			slog.String("reviewer_id", reviewer.ID),
		)
		return approved, nil
	}

	// 承認済みか存在しないかを区別する
	existing, err := s.comments.FindByID(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("failed to find comment: %w", err)
	}
	if existing == nil {
		return nil, model.NewCommentNotFoundError(commentID)
	}
	return existing, nil
}
