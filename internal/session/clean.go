package session

import (
	"regexp"
	"strings"

	"github.com/vbonduro/medlens/internal/domain"
)

var (
	// Anything the English voice should not read out.
	unspeakable = regexp.MustCompile(`[^A-Za-z0-9.\s]`)
	blankRun    = regexp.MustCompile(`[ \t]{2,}`)
)

// Clean prepares a model answer for display and speech. Markdown emphasis
// asterisks are always removed; English answers are further reduced to
// letters, digits, periods and whitespace.
func Clean(text string, lang domain.Language) string {
	text = strings.ReplaceAll(text, "*", "")
	if lang == domain.English {
		text = unspeakable.ReplaceAllString(text, "")
		text = blankRun.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(text)
}
