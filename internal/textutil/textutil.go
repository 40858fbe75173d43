// Package textutil converts source post HTML into Discord-ready plain text.
package textutil

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	brTag        = regexp.MustCompile(`(?i)<br\s*/?>`)
	pCloseTag    = regexp.MustCompile(`(?i)</p>`)
	multiNewline = regexp.MustCompile(`\n\s*\n+`)
	multiSpace   = regexp.MustCompile(` +`)
	bareURL      = regexp.MustCompile(`https?://\S+`)
)

// CleanHTML strips the source's HTML markup from a post body. Line breaks and
// paragraph boundaries become newlines, runs of whitespace collapse, and bare
// URLs are wrapped in <> so Discord does not unfurl a preview for every link.
func CleanHTML(raw string) string {
	if raw == "" {
		return ""
	}

	// Preserve intentional breaks before the tags are stripped.
	raw = brTag.ReplaceAllString(raw, "\n")
	raw = pCloseTag.ReplaceAllString(raw, "\n\n")

	text := raw
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
		text = doc.Text()
	}

	text = multiNewline.ReplaceAllString(text, "\n\n")
	text = multiSpace.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	return bareURL.ReplaceAllStringFunc(text, func(u string) string {
		return "<" + strings.TrimRight(u, ".,)") + ">" + trailingPunct(u)
	})
}

func trailingPunct(u string) string {
	return u[len(strings.TrimRight(u, ".,)")):]
}

// IsRepost reports whether a post body is a repost of someone else's content
// ("RT @user ..." style). Reposts are recorded but never relayed.
func IsRepost(raw string) bool {
	text := strings.ToUpper(CleanHTML(raw))
	return strings.HasPrefix(text, "RT ") || strings.HasPrefix(text, "RT@")
}
