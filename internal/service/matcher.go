package service

import (
	"context"
	"log"
	"regexp"
	"strconv"
	"strings"

	"voicesurvey/internal/model"
)

// CategoryMatcher resolves answers the rule-based mapping cannot place
type CategoryMatcher interface {
	MatchCategory(ctx context.Context, q model.Question, raw string) (string, error)
}

// Matcher maps a processed answer to the canonical value stored for a question
type Matcher struct {
	fallback CategoryMatcher
}

// NewMatcher creates a matcher; fallback may be nil
func NewMatcher(fallback CategoryMatcher) *Matcher {
	return &Matcher{fallback: fallback}
}

var (
	digitsPattern = regexp.MustCompile(`-?\d+`)
	wordPattern   = regexp.MustCompile(`[a-z]+`)
)

var numberWords = map[string]int{
	"zero": 0, "none": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
}

// Canonical returns the canonical answer for raw, or "" when a scale or
// categorical answer cannot be placed.
func (m *Matcher) Canonical(ctx context.Context, q model.Question, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	switch q.ResponseType {
	case model.ResponseScale:
		if n, ok := parseScale(raw, q.ScaleMax); ok {
			return strconv.Itoa(n)
		}
	case model.ResponseCategorical:
		if c := matchCategory(raw, q.Categories); c != "" {
			return c
		}
	default:
		return raw
	}

	return m.ask(ctx, q, raw)
}

func (m *Matcher) ask(ctx context.Context, q model.Question, raw string) string {
	if m.fallback == nil {
		return ""
	}
	match, err := m.fallback.MatchCategory(ctx, q, raw)
	if err != nil {
		log.Printf("Matcher: fallback failed for question %s: %v", q.ID, err)
		return ""
	}
	return match
}

// parseScale reads the first number in text, as digits or an English word,
// and accepts it when it lies within [0, max]. max <= 0 means unbounded.
func parseScale(text string, max int) (int, bool) {
	lower := strings.ToLower(text)

	n, found := -1, false
	if loc := digitsPattern.FindStringIndex(lower); loc != nil {
		if v, err := strconv.Atoi(lower[loc[0]:loc[1]]); err == nil {
			n, found = v, true
		}
		// a number word before the digits wins ("two, maybe 3")
		for _, w := range wordPattern.FindAllStringIndex(lower[:loc[0]], -1) {
			if v, ok := numberWords[lower[w[0]:w[1]]]; ok {
				n = v
				break
			}
		}
	} else {
		for _, w := range wordPattern.FindAllString(lower, -1) {
			if v, ok := numberWords[w]; ok {
				n, found = v, true
				break
			}
		}
	}

	if !found || n < 0 || (max > 0 && n > max) {
		return 0, false
	}
	return n, true
}

// matchCategory tries a case-insensitive exact match, then the longest
// category contained in the answer as whole words, then an answer
// contained in exactly one category.
func matchCategory(raw string, categories []string) string {
	lower := strings.ToLower(strings.Trim(raw, " .!?,"))
	for _, c := range categories {
		if strings.EqualFold(c, lower) {
			return c
		}
	}

	padded := " " + strings.Join(wordPattern.FindAllString(lower, -1), " ") + " "
	best := ""
	for _, c := range categories {
		words := wordPattern.FindAllString(strings.ToLower(c), -1)
		if len(words) == 0 {
			continue
		}
		if strings.Contains(padded, " "+strings.Join(words, " ")+" ") && len(c) > len(best) {
			best = c
		}
	}
	if best != "" {
		return best
	}

	var within []string
	for _, c := range categories {
		if len(lower) >= 3 && strings.Contains(strings.ToLower(c), lower) {
			within = append(within, c)
		}
	}
	if len(within) == 1 {
		return within[0]
	}
	return ""
}
