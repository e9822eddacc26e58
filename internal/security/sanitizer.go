package security

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// CommentSanitizer はコメント本文のHTMLを無害化する。
// 段落・改行・強調・引用・コード・リストと、httpsのリンクのみ残す。
// リンクにはrel="nofollow noopener noreferrer"とtarget="_blank"を付与する。
// 同一入力に対して常に同一出力を返す。
type CommentSanitizer struct {
	policy *bluemonday.Policy
}

// NewCommentSanitizer はCommentSanitizerを生成する。
func NewCommentSanitizer() *CommentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemeWithCustomPolicy("https", func(*url.URL) bool { return true })
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &CommentSanitizer{policy: p}
}

// Sanitize はrawを無害化したHTMLを返す。
func (s *CommentSanitizer) Sanitize(raw string) string {
	return s.policy.Sanitize(raw)
}
