package speech

import (
	"strings"
	"unicode/utf8"
)

// maxChunkRunes is the longest text the translate TTS endpoint accepts per request.
const maxChunkRunes = 100

// splitText breaks text into chunks of at most limit runes. Words are never
// split unless a single word is longer than limit, and a chunk always ends
// after a word that closes a sentence.
func splitText(text string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(text) {
		for utf8.RuneCountInString(word) > limit {
			flush()
			runes := []rune(word)
			chunks = append(chunks, string(runes[:limit]))
			word = string(runes[limit:])
		}

		n := utf8.RuneCountInString(word)
		if curLen > 0 && curLen+1+n > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += n

		if endsSentence(word) {
			flush()
		}
	}
	flush()
	return chunks
}

func endsSentence(word string) bool {
	r, _ := utf8.DecodeLastRuneInString(word)
	switch r {
	case '.', '!', '?', ';', '।':
		return true
	default:
		return false
	}
}
