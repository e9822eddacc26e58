// Package crossref はDOIによる論文著者照合を提供する。
// CrossRef Works APIの呼び出し、著者照合、照合結果のキャッシュを含む。
package crossref

import (
	"regexp"
	"strings"
)

var doiPattern = regexp.MustCompile(`^10\.\d{4,}/\S+$`)

// resolverPrefixes は除去するDOIリゾルバのURL接頭辞。小文字で比較する。
var resolverPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
}

// NormalizeDOI は前後の空白を除去し、先頭の "doi:" またはリゾルバURLを大文字小文字を区別せず取り除く。
// "doi:" の後ろにリゾルバURLが続く場合は両方を取り除く。
func NormalizeDOI(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "doi:") {
		s = strings.TrimSpace(s[len("doi:"):])
	}
	lower := strings.ToLower(s)
	for _, p := range resolverPrefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(s[len(p):])
		}
	}
	return s
}

// ValidateDOI はDOIの構造を検証する。ネットワーク呼び出しの前に使う。
func ValidateDOI(s string) bool {
	return doiPattern.MatchString(s)
}
