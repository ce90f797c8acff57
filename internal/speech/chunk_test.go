package speech

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSplitText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{
			name:  "short text is one chunk",
			text:  "Paracetamol relieves pain",
			limit: 100,
			want:  []string{"Paracetamol relieves pain"},
		},
		{
			name:  "sentence boundary ends a chunk",
			text:  "Paracetamol. It relieves pain.",
			limit: 100,
			want:  []string{"Paracetamol.", "It relieves pain."},
		},
		{
			name:  "packs words up to the limit",
			text:  "aaa bbb ccc ddd",
			limit: 7,
			want:  []string{"aaa bbb", "ccc ddd"},
		},
		{
			name:  "long word is hard split",
			text:  "abcdefghij",
			limit: 4,
			want:  []string{"abcd", "efgh", "ij"},
		},
		{
			name:  "newlines are collapsed",
			text:  "one\n\ntwo   three",
			limit: 100,
			want:  []string{"one two three"},
		},
		{
			name:  "empty",
			text:  "  \n ",
			limit: 100,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitText(tt.text, tt.limit))
		})
	}
}

func TestSplitTextRespectsRuneLimit(t *testing.T) {
	// Tamil script is multi-byte; the limit counts runes, not bytes.
	text := strings.Repeat("மருந்து ", 40)

	for _, c := range splitText(text, maxChunkRunes) {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), maxChunkRunes)
	}
}
