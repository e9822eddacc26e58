package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/acadtrust/internal/model"
)

const commentColumns = `id, post_id, author_id, body, trust_level, is_approved, approved_by, approved_at, created_at`

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// Create はコメントを作成する。
func (r *PostgresCommentRepo) Create(ctx context.Context, c *model.Comment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, post_id, author_id, body, trust_level, is_approved, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.PostID, c.AuthorID, c.Body, string(c.TrustLevel), c.IsApproved, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("コメントの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	c, err := scanComment(r.db.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	return c, nil
}

// ListPending は未承認コメントを古い順に返す。
func (r *PostgresCommentRepo) ListPending(ctx context.Context, limit int) ([]*model.Comment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM comments
		 WHERE is_approved = false
		 ORDER BY created_at ASC, id ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("承認待ちコメントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var comments []*model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("承認待ちコメントの読み取りに失敗しました: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("承認待ちコメントの走査に失敗しました: %w", err)
	}
	return comments, nil
}

// Approve は未承認のコメントだけを承認済みに更新する。
func (r *PostgresCommentRepo) Approve(ctx context.Context, id, reviewerID string, approvedAt time.Time) (*model.Comment, error) {
	c, err := scanComment(r.db.QueryRowContext(ctx,
		`UPDATE comments SET is_approved = true, approved_by = $2, approved_at = $3
		 WHERE id = $1 AND is_approved = false
		 RETURNING `+commentColumns,
		id, reviewerID, approvedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コメントの承認に失敗しました: %w", err)
	}
	return c, nil
}

func scanComment(row rowScanner) (*model.Comment, error) {
	var (
		c          model.Comment
		trustLevel string
		approvedBy sql.NullString
		approvedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Body, &trustLevel,
		&c.IsApproved, &approvedBy, &approvedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.TrustLevel = model.TrustLevel(trustLevel)
	c.ApprovedBy = nullStringValue(approvedBy)
	if approvedAt.Valid {
		t := approvedAt.Time
		c.ApprovedAt = &t
	}
	return &c, nil
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)
