package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicesurvey/internal/cache"
	"voicesurvey/internal/config"
	"voicesurvey/internal/model"
)

type fakeGenerator struct {
	reply  string
	err    error
	models []string
}

func (g *fakeGenerator) Generate(ctx context.Context, modelName, prompt string) (string, error) {
	g.models = append(g.models, modelName)
	return g.reply, g.err
}

func newSympathyCache(t *testing.T) cache.SympathyCache {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewSympathyCache(client)
}

func newTestEvaluator(t *testing.T, gen generator) *EvaluatorService {
	cfg := &config.AIConfig{
		Models:    config.GeminiModels{Sympathy: "fast-model", Mapping: "map-model"},
		TimeoutMS: 1000,
	}
	s := NewEvaluatorService(context.Background(), cfg, newSympathyCache(t))
	s.gen = gen
	return s
}

func TestSympathyMockWithoutKey(t *testing.T) {
	s := NewEvaluatorService(context.Background(), &config.AIConfig{}, nil)

	line, err := s.Sympathy(context.Background(), "How was your commute?", "fine")
	require.NoError(t, err)
	assert.Contains(t, mockSympathyLines, line)

	again, err := s.Sympathy(context.Background(), "How was your commute?", "  FINE ")
	require.NoError(t, err)
	assert.Equal(t, line, again)
}

func TestSympathyGeneratedAndCached(t *testing.T) {
	gen := &fakeGenerator{reply: `{"reply": "Sounds like a smooth ride!"}`}
	s := newTestEvaluator(t, gen)
	ctx := context.Background()

	line, err := s.Sympathy(ctx, "How was your commute?", "easy")
	require.NoError(t, err)
	assert.Equal(t, "Sounds like a smooth ride!", line)

	line, err = s.Sympathy(ctx, "How was your commute?", "easy")
	require.NoError(t, err)
	assert.Equal(t, "Sounds like a smooth ride!", line)
	assert.Equal(t, []string{"fast-model"}, gen.models, "second call is served from cache")
}

func TestSympathyFallsBackOnBadOutput(t *testing.T) {
	s := newTestEvaluator(t, &fakeGenerator{reply: "not json"})
	line, err := s.Sympathy(context.Background(), "Q?", "answer")
	require.NoError(t, err)
	assert.Contains(t, mockSympathyLines, line)

	s = newTestEvaluator(t, &fakeGenerator{err: errors.New("quota")})
	line, err = s.Sympathy(context.Background(), "Q?", "answer")
	require.NoError(t, err)
	assert.Contains(t, mockSympathyLines, line)
}

func TestSympathyCancelled(t *testing.T) {
	s := newTestEvaluator(t, &fakeGenerator{err: context.Canceled})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Sympathy(ctx, "Q?", "answer")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatchCategory(t *testing.T) {
	q := model.Question{ID: "q1", Text: "Do you own a bike?", ResponseType: model.ResponseCategorical, Categories: []string{"Yes", "No"}}
	ctx := context.Background()

	gen := &fakeGenerator{reply: `{"match": "yes"}`}
	s := newTestEvaluator(t, gen)
	match, err := s.MatchCategory(ctx, q, "absolutely")
	require.NoError(t, err)
	assert.Equal(t, "Yes", match)
	assert.Equal(t, []string{"map-model"}, gen.models)

	s = newTestEvaluator(t, &fakeGenerator{reply: `{"match": "Maybe"}`})
	match, err = s.MatchCategory(ctx, q, "perhaps")
	require.NoError(t, err)
	assert.Empty(t, match, "values outside the allowed set are dropped")

	scale := model.Question{ID: "q2", ResponseType: model.ResponseScale, ScaleMax: 5}
	s = newTestEvaluator(t, &fakeGenerator{reply: `{"match": "4"}`})
	match, err = s.MatchCategory(ctx, scale, "pretty good")
	require.NoError(t, err)
	assert.Equal(t, "4", match)

	mock := NewEvaluatorService(ctx, &config.AIConfig{}, nil)
	match, err = mock.MatchCategory(ctx, q, "absolutely")
	require.NoError(t, err)
	assert.Empty(t, match)
}
