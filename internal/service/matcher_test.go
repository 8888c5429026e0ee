package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"voicesurvey/internal/model"
)

type stubCategoryMatcher struct {
	match string
	err   error
	calls int
}

func (s *stubCategoryMatcher) MatchCategory(ctx context.Context, q model.Question, raw string) (string, error) {
	s.calls++
	return s.match, s.err
}

func TestMatcherScale(t *testing.T) {
	q := model.Question{ID: "q1", ResponseType: model.ResponseScale, ScaleMax: 10}
	m := NewMatcher(nil)
	ctx := context.Background()

	cases := map[string]string{
		"7":                "7",
		"I'd say 8":        "8",
		"seven":            "7",
		"Probably a Ten.":  "10",
		"two, maybe 3":     "2",
		"zero":             "0",
		"11":               "",
		"not sure":         "",
		"":                 "",
		"  4 out of ten  ": "4",
		"-2":               "",
		"3-4":              "3",
	}
	for raw, want := range cases {
		assert.Equal(t, want, m.Canonical(ctx, q, raw), "raw %q", raw)
	}
}

func TestMatcherCategorical(t *testing.T) {
	q := model.Question{
		ID:           "q1",
		ResponseType: model.ResponseCategorical,
		Categories:   []string{"Yes", "No", "Public transport", "Car"},
	}
	m := NewMatcher(nil)
	ctx := context.Background()

	cases := map[string]string{
		"yes":                         "Yes",
		"No.":                         "No",
		"mostly public transport":     "Public transport",
		"I drive my car":              "Car",
		"public":                      "Public transport",
		"cartoon":                     "",
		"nothing like that, honestly": "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, m.Canonical(ctx, q, raw), "raw %q", raw)
	}
}

func TestMatcherOpenKeepsText(t *testing.T) {
	m := NewMatcher(&stubCategoryMatcher{match: "ignored"})
	q := model.Question{ID: "q1", ResponseType: model.ResponseOpen}
	assert.Equal(t, "blue car", m.Canonical(context.Background(), q, "  blue car "))
}

func TestMatcherFallback(t *testing.T) {
	q := model.Question{ID: "q1", ResponseType: model.ResponseCategorical, Categories: []string{"Yes", "No"}}
	ctx := context.Background()

	fallback := &stubCategoryMatcher{match: "Yes"}
	m := NewMatcher(fallback)
	assert.Equal(t, "Yes", m.Canonical(ctx, q, "absolutely"))
	assert.Equal(t, 1, fallback.calls)

	assert.Equal(t, "No", m.Canonical(ctx, q, "no"))
	assert.Equal(t, 1, fallback.calls, "rule match must not consult the fallback")

	failing := NewMatcher(&stubCategoryMatcher{err: errors.New("boom")})
	assert.Equal(t, "", failing.Canonical(ctx, q, "absolutely"))
}
