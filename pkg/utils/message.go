package utils

import (
	"regexp"
	"strings"
)

// Chunk splits text into pieces of at most limit runes. Joining the pieces
// gives back text exactly. Empty text yields no chunks and a non-positive
// limit yields the whole text as one chunk.
func Chunk(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}

	var chunks []string
	runes := 0
	start := 0
	for i := range text {
		if runes == limit {
			chunks = append(chunks, text[start:i])
			start = i
			runes = 0
		}
		runes++
	}
	return append(chunks, text[start:])
}

var markdownRules = []struct {
	pattern *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`\*\*(.*?)\*\*`), "$1"},
	{regexp.MustCompile(`\*(.*?)\*`), "$1"},
	{regexp.MustCompile("`(.*?)`"), "$1"},
	{regexp.MustCompile(`(?m)^#+\s+(.*)`), "$1"},
	{regexp.MustCompile(`\[(.*?)\]\(.*?\)`), "$1"},
	{regexp.MustCompile(`(?m)^\s*>\s+(.*)`), "▎$1"},
}

// StripMarkdown flattens the common inline markdown a chat client would
// otherwise show literally.
func StripMarkdown(text string) string {
	for _, rule := range markdownRules {
		text = rule.pattern.ReplaceAllString(text, rule.replace)
	}
	return text
}

var urlPattern = regexp.MustCompile(`https?://[^\s\]\)]+`)

// FindURLs returns the http(s) URLs in text in order of appearance.
func FindURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// SpaceAfterURLs puts a space after every URL.
func SpaceAfterURLs(text string) string {
	locs := urlPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	var b strings.Builder
	prev := 0
	for _, loc := range locs {
		b.WriteString(text[prev:loc[1]])
		b.WriteByte(' ')
		prev = loc[1]
	}
	b.WriteString(text[prev:])
	return b.String()
}

// Truncate shortens s to maxLen runes for log previews, marking the cut
// with "..." when there is room for it.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == maxLen {
			if maxLen <= 3 {
				return s[:i]
			}
			return truncateAt(s, maxLen-3) + "..."
		}
		n++
	}
	return s
}

func truncateAt(s string, runes int) string {
	n := 0
	for i := range s {
		if n == runes {
			return s[:i]
		}
		n++
	}
	return s
}
