// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/acadtrust/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByORCID はORCID iDでユーザーを検索する。見つからない場合はnilを返す。
	FindByORCID(ctx context.Context, orcid string) (*model.User, error)

	// Create はユーザーを作成する。usernameが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateWithLock はユーザー行をSELECT ... FOR UPDATEでロックしてfnを適用し、
	// 同一トランザクションで書き戻す。ユーザーが存在しない場合は(nil, nil)を返す。
	// fnがエラーを返した場合はロールバックしてそのエラーを返す。
	// orcidが他ユーザーと重複する場合はErrDuplicateを返す。
	UpdateWithLock(ctx context.Context, id string, fn func(user *model.User) error) (*model.User, error)
}

// EmailTokenRepository は学術メール検証トークンの永続化インターフェース。
type EmailTokenRepository interface {
	// Create はトークンを作成する。
	Create(ctx context.Context, token *model.EmailVerificationToken) error

	// Consume は有効期限内のトークンを削除して返す。
	// 存在しない・期限切れの場合はnilを返す。同じトークンは一度しか返らない。
	Consume(ctx context.Context, token string) (*model.EmailVerificationToken, error)

	// DeleteByToken はトークンを削除する。存在しなくてもエラーにしない。
	DeleteByToken(ctx context.Context, token string) error

	// DeleteExpired は有効期限を過ぎたトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CommentRepository はコメントの永続化インターフェース。
type CommentRepository interface {
	// Create はコメントを作成する。
	Create(ctx context.Context, comment *model.Comment) error

	// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Comment, error)

	// ListPending は未承認コメントを作成日時の古い順に返す。
	ListPending(ctx context.Context, limit int) ([]*model.Comment, error)

	// Approve は未承認コメントを承認済みにする。
	// 既に承認済みまたは存在しない場合はnilを返す。
	Approve(ctx context.Context, id, reviewerID string, approvedAt time.Time) (*model.Comment, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
