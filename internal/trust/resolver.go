// Package trust は検証結果から信頼レベルを導出し、検証フロー全体を調停する。
package trust

import (
	"fmt"

	"github.com/hitoshi/acadtrust/internal/model"
)

// Proofs はユーザーが保持する検証済みの証明。
type Proofs struct {
	ORCID   bool
	DOI     bool
	Student bool
}

// ProofsOf はユーザーの検証フラグを取り出す。
func ProofsOf(u *model.User) Proofs {
	return Proofs{
		ORCID:   u.IsOrcidVerified,
		DOI:     u.IsDoiVerified,
		Student: u.IsStudentVerified,
	}
}

// ResolveTrustLevel は保持している証明のうち最も強いものに対応する信頼レベルを返す。
// ORCID > DOI > STUDENT > GUEST の順で判定する。
func ResolveTrustLevel(p Proofs) model.TrustLevel {
	switch {
	case p.ORCID:
		return model.TrustORCID
	case p.DOI:
		return model.TrustDOI
	case p.Student:
		return model.TrustStudent
	default:
		return model.TrustGuest
	}
}

// EventKind は検証成功イベントの種類。
type EventKind string

const (
	EventORCIDVerified   EventKind = "orcid_verified"
	EventDOIVerified     EventKind = "doi_verified"
	EventStudentVerified EventKind = "student_verified"
)

// Level はイベントが証明する信頼レベルを返す。
func (k EventKind) Level() model.TrustLevel {
	switch k {
	case EventORCIDVerified:
		return model.TrustORCID
	case EventDOIVerified:
		return model.TrustDOI
	case EventStudentVerified:
		return model.TrustStudent
	default:
		return ""
	}
}

// Event は1回の検証成功を表す。
type Event struct {
	Kind EventKind
	// Detail は検証の根拠（ORCID iD、DOI、メールアドレスなど）。
	Detail string
	// ORCID はEventORCIDVerifiedの場合に連携するORCID iD。
	ORCID string
}

// Outcome はApplyの結果。
type Outcome struct {
	Previous model.TrustLevel
	Current  model.TrustLevel
	Changed  bool
}

// Apply はイベントに対応する証明フラグを立て、信頼レベルを再計算する。
// フラグは立てるだけで下ろさない。VerifiedDetailは現在の最上位の証明以上の
// イベントでのみ上書きするため、弱い証明が強い証明の根拠を消すことはない。
func Apply(u *model.User, e Event) (Outcome, error) {
	level := e.Kind.Level()
	if level == "" {
		return Outcome{}, fmt.Errorf("unknown verification event: %q", e.Kind)
	}

	previous := ResolveTrustLevel(ProofsOf(u))

	switch e.Kind {
	case EventORCIDVerified:
		u.IsOrcidVerified = true
		if e.ORCID != "" {
			u.ORCID = e.ORCID
		}
	case EventDOIVerified:
		u.IsDoiVerified = true
	case EventStudentVerified:
		u.IsStudentVerified = true
	}

	if level.Rank() >= previous.Rank() && e.Detail != "" {
		u.VerifiedDetail = e.Detail
	}

	current := ResolveTrustLevel(ProofsOf(u))
	u.TrustLevel = current

	return Outcome{
		Previous: previous,
		Current:  current,
		Changed:  current != previous,
	}, nil
}
