package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/acadtrust/internal/model"
)

// ModerationServiceInterface はコメントハンドラーが必要とするサービスインターフェース。
// moderation.Serviceが実装する。
type ModerationServiceInterface interface {
	CreateComment(ctx context.Context, authorID, postID, body string) (*model.Comment, error)
	ListPending(ctx context.Context, limit int) ([]*model.Comment, error)
	AuthorizeReviewer(ctx context.Context, reviewerID string) (*model.User, error)
	Approve(ctx context.Context, reviewerID, commentID string) (*model.Comment, error)
}

// CommentHandler はコメント投稿とモデレーションのHTTPハンドラー。
type CommentHandler struct {
	service ModerationServiceInterface
}

// NewCommentHandler はCommentHandlerを生成する。
func NewCommentHandler(service ModerationServiceInterface) *CommentHandler {
	return &CommentHandler{service: service}
}

type createCommentRequest struct {
	Body string `json:"body"`
}

// commentResponse はコメントのレスポンス。
type commentResponse struct {
	ID         string     `json:"id"`
	PostID     string     `json:"post_id"`
	AuthorID   string     `json:"author_id"`
	Body       string     `json:"body"` // サニタイズ済みHTML
	TrustLevel string     `json:"trust_level"`
	IsApproved bool       `json:"is_approved"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type pendingCommentsResponse struct {
	Comments []commentResponse `json:"comments"`
}

func toCommentResponse(c *model.Comment) commentResponse {
	return commentResponse{
		ID:         c.ID,
		PostID:     c.PostID,
		AuthorID:   c.AuthorID,
		Body:       c.Body,
		TrustLevel: string(c.TrustLevel),
		IsApproved: c.IsApproved,
		ApprovedBy: c.ApprovedBy,
		ApprovedAt: c.ApprovedAt,
		CreatedAt:  c.CreatedAt,
	}
}

// CreateComment は投稿にコメントを作成する。
// GUEST以外の投稿者のコメントは即時承認される。
// POST /api/posts/{postID}/comments
func (h *CommentHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	comment, err := h.service.CreateComment(r.Context(), userID, chi.URLParam(r, "postID"), req.Body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCommentResponse(comment))
}

// ListPending は承認待ちのコメント一覧を返す。レビュアー権限が必要。
// GET /api/moderation/comments/pending?limit=50
func (h *CommentHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.AuthorizeReviewer(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			handleServiceError(w, r, model.NewValidationError("limitは1以上の整数で指定してください"))
			return
		}
		limit = n
	}

	comments, err := h.service.ListPending(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := pendingCommentsResponse{Comments: make([]commentResponse, 0, len(comments))}
	for _, c := range comments {
		resp.Comments = append(resp.Comments, toCommentResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Approve は承認待ちのコメントを承認する。承認済みのコメントに対しても成功を返す。
// POST /api/moderation/comments/{id}/approve
func (h *CommentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	comment, err := h.service.Approve(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toCommentResponse(comment))
}
