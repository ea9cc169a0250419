package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "```json\n{\"decision\": \"drift\"}\n```",
			expected: `{"decision": "drift"}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"decision\": \"drift\"}\n```",
			expected: `{"decision": "drift"}`,
		},
		{
			name:     "plain JSON",
			input:    `{"drift_score": 0.3}`,
			expected: `{"drift_score": 0.3}`,
		},
		{
			name:     "preamble before object",
			input:    "Here is my analysis:\n{\"decision\": \"no_change\"}",
			expected: `{"decision": "no_change"}`,
		},
		{
			name:     "trailing chatter",
			input:    "{\"decision\": \"drift\"}\n\nLet me know if you need more.",
			expected: `{"decision": "drift"}`,
		},
		{
			name:     "braces inside strings",
			input:    `{"evidence": ["price {was} $50"], "drift_score": 0.8}`,
			expected: `{"evidence": ["price {was} $50"], "drift_score": 0.8}`,
		},
		{
			name:     "escaped quotes",
			input:    `Result: {"rationale": "they said \"new\" tier"}`,
			expected: `{"rationale": "they said \"new\" tier"}`,
		},
		{
			name:     "no object",
			input:    "  I cannot answer that  ",
			expected: "I cannot answer that",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONBlock(tt.input))
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a": {"b": 1}}`, extractJSONObject(`{"a": {"b": 1}} tail`))
	assert.Equal(t, "", extractJSONObject(""))
	assert.Equal(t, "", extractJSONObject("not json"))
	assert.Equal(t, "", extractJSONObject(`{"unbalanced": 1`))
}
