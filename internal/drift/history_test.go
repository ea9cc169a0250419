package drift

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate_RuneSafe(t *testing.T) {
	s := strings.Repeat("é", 10)
	got := truncate(s, 4)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "éééé", got)

	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "", truncate("abc", 0))
}

func TestHistorySnippets(t *testing.T) {
	long := strings.Repeat("a", MaxSnippetChars+10)
	got := HistorySnippets([]string{long, "short"})
	assert.Len(t, got[0], MaxSnippetChars)
	assert.Equal(t, "short", got[1])
}

func TestHistoryText(t *testing.T) {
	assert.Equal(t, "None.", historyText(nil))
	assert.Equal(t, "a\n\n---\n\nb", historyText([]string{"a", "b"}))

	snippets := HistorySnippets([]string{
		strings.Repeat("1", 3000),
		strings.Repeat("2", 3000),
		strings.Repeat("3", 3000),
	})
	joined := historyText(snippets)
	assert.Equal(t, MaxHistoryChars, utf8.RuneCountInString(joined))
	assert.True(t, strings.HasPrefix(joined, strings.Repeat("1", MaxSnippetChars)))
}
