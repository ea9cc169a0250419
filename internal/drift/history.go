package drift

import (
	"strings"
	"unicode/utf8"
)

// Prompt size limits, in characters.
const (
	MaxLatestChars   = 12000
	MaxSnippetChars  = 2000
	MaxHistoryChars  = 6000
	historySeparator = "\n\n---\n\n"
	noHistory        = "None."
)

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// HistorySnippets truncates each prior snapshot to MaxSnippetChars, keeping order.
func HistorySnippets(contents []string) []string {
	out := make([]string, 0, len(contents))
	for _, c := range contents {
		out = append(out, truncate(c, MaxSnippetChars))
	}
	return out
}

// historyText joins snippets for the prompt, or returns "None." when there are none.
func historyText(snippets []string) string {
	if len(snippets) == 0 {
		return noHistory
	}
	return truncate(strings.Join(snippets, historySeparator), MaxHistoryChars)
}
