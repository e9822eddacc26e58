package model

import "fmt"

// TrustLevel はプラットフォームがユーザーの学術的身元に置く信頼度を表す。
// GUEST < STUDENT < DOI < ORCID の順に厳密に順序付けられる。
type TrustLevel string

const (
	// TrustGuest は未検証ユーザー。
	TrustGuest TrustLevel = "GUEST"
	// TrustStudent は学術機関メールで検証済み。
	TrustStudent TrustLevel = "STUDENT"
	// TrustDOI はDOI論文の著者照合で検証済み。
	TrustDOI TrustLevel = "DOI"
	// TrustORCID はORCID OAuthで検証済み。
	TrustORCID TrustLevel = "ORCID"
)

// trustRanks は各信頼レベルの順位。未知の値は-1として扱う。
var trustRanks = map[TrustLevel]int{
	TrustGuest:   0,
	TrustStudent: 1,
	TrustDOI:     2,
	TrustORCID:   3,
}

// Rank は信頼レベルの順位を返す。未知の値は-1を返す。
func (l TrustLevel) Rank() int {
	if r, ok := trustRanks[l]; ok {
		return r
	}
	return -1
}

// Valid は既知の信頼レベルかどうかを返す。
func (l TrustLevel) Valid() bool {
	return l.Rank() >= 0
}

// AtLeast はlがmin以上の信頼レベルかどうかを返す。
func (l TrustLevel) AtLeast(min TrustLevel) bool {
	return l.Valid() && l.Rank() >= min.Rank()
}

// MaxTrustLevel は2つの信頼レベルのうち順位の高い方を返す。
func MaxTrustLevel(a, b TrustLevel) TrustLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseTrustLevel は文字列を信頼レベルに変換する。
func ParseTrustLevel(s string) (TrustLevel, error) {
	l := TrustLevel(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown trust level: %q", s)
	}
	return l, nil
}
