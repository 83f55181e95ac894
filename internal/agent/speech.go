package agent

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	speechFunctionPattern = regexp.MustCompile(`(?s)<function[^>]*>.*?(?:</function>|$)`)
	speechJSONPattern     = regexp.MustCompile(`\{"[^"]+":.*?\}`)
	speechFencedCode      = regexp.MustCompile("(?s)```.*?```")
	speechMarkdownLink    = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

// CleanForSpeech strips leftover tool-call markup, JSON fragments and
// markdown noise from model text before it is synthesized.
func CleanForSpeech(raw string) string {
	raw = speechFunctionPattern.ReplaceAllString(raw, "")
	raw = speechJSONPattern.ReplaceAllString(raw, "")
	raw = speechFencedCode.ReplaceAllString(raw, " ")
	raw = speechMarkdownLink.ReplaceAllString(raw, "$1")
	raw = strings.NewReplacer("*", " ", "#", " ", "`", " ", "_", " ", "|", " ").Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sk):
			// emoji
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}
