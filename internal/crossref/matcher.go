package crossref

import "strings"

// AuthorProfile は照合に使うユーザー側の情報。どちらも任意。
type AuthorProfile struct {
	Name  string
	ORCID string
}

// MatchAuthor はprofileが論文の著者のいずれかと一致するかを判定する。
//
// ORCIDがあれば著者のORCIDフィールドに部分文字列として含まれるかを先に調べ、
// 一致すればその時点で成功とする。URI形式とbare形式の違いはこれで吸収される。
// 一致しなければ氏名を小文字のトークンに分割し、given/familyが揃った著者について
// "given family" と "family given" のどちらかに全トークンが部分文字列として含まれれば成功とする。
func MatchAuthor(work *Work, profile AuthorProfile) bool {
	if work == nil || len(work.Authors) == 0 {
		return false
	}

	if orcid := strings.TrimSpace(profile.ORCID); orcid != "" {
		for _, a := range work.Authors {
			if a.ORCID != "" && strings.Contains(a.ORCID, orcid) {
				return true
			}
		}
	}

	tokens := strings.Fields(strings.ToLower(profile.Name))
	if len(tokens) == 0 {
		return false
	}
	for _, a := range work.Authors {
		given := strings.ToLower(strings.TrimSpace(a.Given))
		family := strings.ToLower(strings.TrimSpace(a.Family))
		if given == "" || family == "" {
			continue
		}
		if containsAll(given+" "+family, tokens) || containsAll(family+" "+given, tokens) {
			return true
		}
	}
	return false
}

func containsAll(s string, tokens []string) bool {
	for _, t := range tokens {
		if !strings.Contains(s, t) {
			return false
		}
	}
	return true
}
