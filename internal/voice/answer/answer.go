// Package answer turns a raw transcript into the answer string submitted
// for a question. Semantic matching (category labels, number words) is left
// to the persistence side; this step only trims and extracts.
package answer

import (
	"regexp"
	"strings"

	"voicesurvey/internal/model"
)

var integerToken = regexp.MustCompile(`[-+]?\d+`)

// Process normalizes a transcript for the given response type. It never
// fails: anything it cannot interpret is passed through trimmed.
func Process(raw string, rt model.ResponseType) string {
	text := strings.TrimSpace(raw)
	switch rt {
	case model.ResponseScale:
		if tok := integerToken.FindString(text); tok != "" {
			return strings.TrimPrefix(tok, "+")
		}
		return text
	default:
		return text
	}
}
