package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/acadtrust/internal/model"
)

const userColumns = `id, username, email, password_hash, display_name, orcid,
	is_orcid_verified, is_doi_verified, is_student_verified,
	trust_level, verified_detail, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// FindByORCID はORCID iDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByORCID(ctx context.Context, orcid string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE orcid = $1`, orcid)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, arg string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, display_name, orcid,
		        is_orcid_verified, is_doi_verified, is_student_verified,
		        trust_level, verified_detail, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.DisplayName, nullString(user.ORCID),
		user.IsOrcidVerified, user.IsDoiVerified, user.IsStudentVerified,
		string(user.TrustLevel), user.VerifiedDetail, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateWithLock は行ロックを取得した上でfnを適用し、検証関連カラムを書き戻す。
func (r *PostgresUserRepo) UpdateWithLock(ctx context.Context, id string, fn func(user *model.User) error) (*model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user, err := scanUser(tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーのロック取得に失敗しました: %w", err)
	}

	if err := fn(user); err != nil {
		return nil, err
	}
	user.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET display_name = $2, orcid = $3,
		        is_orcid_verified = $4, is_doi_verified = $5, is_student_verified = $6,
		        trust_level = $7, verified_detail = $8, updated_at = $9
		 WHERE id = $1`,
		user.ID, user.DisplayName, nullString(user.ORCID),
		user.IsOrcidVerified, user.IsDoiVerified, user.IsStudentVerified,
		string(user.TrustLevel), user.VerifiedDetail, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return user, nil
}

// scanUser は1行をmodel.Userに変換する。
func scanUser(row rowScanner) (*model.User, error) {
	var (
		user       model.User
		orcid      sql.NullString
		trustLevel string
	)
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.DisplayName, &orcid,
		&user.IsOrcidVerified, &user.IsDoiVerified, &user.IsStudentVerified,
		&trustLevel, &user.VerifiedDetail, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	level, err := model.ParseTrustLevel(trustLevel)
	if err != nil {
		return nil, err
	}
	user.ORCID = nullStringValue(orcid)
	user.TrustLevel = level
	return &user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
