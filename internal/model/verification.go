package model

import "time"

// EmailVerificationToken は学術メール検証用の使い捨てトークンを表す。
// 同一ユーザーに複数の有効なトークンが存在してよい。
type EmailVerificationToken struct {
	ID        string
	UserID    string
	Token     string
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired はトークンがnow時点で期限切れかどうかを返す。
func (t *EmailVerificationToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
