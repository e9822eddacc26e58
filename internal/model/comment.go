package model

import "time"

// Comment は投稿へのコメントを表す。
// TrustLevelとIsApprovedは作成時点のスナップショットであり、
// 投稿者の信頼レベルが後で変わっても再評価しない。
type Comment struct {
	ID         string
	PostID     string
	AuthorID   string
	Body       string
	TrustLevel TrustLevel
	IsApproved bool
	ApprovedBy string // 未承認の場合は空文字列
	ApprovedAt *time.Time
	CreatedAt  time.Time
}
