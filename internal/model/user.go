// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 3つの検証フラグは一度trueになるとfalseに戻らない。
// TrustLevelは常にtrueのフラグの最大順位と一致する。
type User struct {
	ID                string
	Username          string
	Email             string
	PasswordHash      string
	DisplayName       string
	ORCID             string // 未連携の場合は空文字列
	IsOrcidVerified   bool
	IsDoiVerified     bool
	IsStudentVerified bool
	TrustLevel        TrustLevel
	VerifiedDetail    string // 直近の検証の根拠
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
