package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/acadtrust/internal/model"
)

// PostgresEmailTokenRepo はPostgreSQLを使用した学術メール検証トークンリポジトリ。
type PostgresEmailTokenRepo struct {
	db *sql.DB
}

// NewPostgresEmailTokenRepo はPostgresEmailTokenRepoを生成する。
func NewPostgresEmailTokenRepo(db *sql.DB) *PostgresEmailTokenRepo {
	return &PostgresEmailTokenRepo{db: db}
}

// Create はトークンを作成する。
func (r *PostgresEmailTokenRepo) Create(ctx context.Context, t *model.EmailVerificationToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO email_verification_tokens (id, user_id, token, email, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.UserID, t.Token, t.Email, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("検証トークンの作成に失敗しました: %w", err)
	}
	return nil
}

// Consume は有効期限内のトークンを1文のDELETEで取り出す。
// 同時に同じトークンが引き換えられても、行を返すのは片方だけになる。
func (r *PostgresEmailTokenRepo) Consume(ctx context.Context, token string) (*model.EmailVerificationToken, error) {
	t := &model.EmailVerificationToken{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM email_verification_tokens
		 WHERE token = $1 AND expires_at > now()
		 RETURNING id, user_id, token, email, expires_at, created_at`,
		token,
	).Scan(&t.ID, &t.UserID, &t.Token, &t.Email, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("検証トークンの引き換えに失敗しました: %w", err)
	}
	return t, nil
}

// DeleteByToken はトークンを削除する。
func (r *PostgresEmailTokenRepo) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM email_verification_tokens WHERE token = $1`,
		token,
	)
	if err != nil {
		return fmt.Errorf("検証トークンの削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteExpired はnow以前に期限切れとなったトークンを削除する。
func (r *PostgresEmailTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM email_verification_tokens WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れ検証トークンの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ EmailTokenRepository = (*PostgresEmailTokenRepo)(nil)
