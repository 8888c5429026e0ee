package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnalyticsCache keeps the canonical answer of every respondent per question
// and tallies them on read. Re-submitting an answer replaces the previous one.
type AnalyticsCache interface {
	RecordAnswer(ctx context.Context, surveyID, questionID, respondentID, canonical string) error
	Backfill(ctx context.Context, surveyID, questionID string, answers map[string]string) error
	QuestionTally(ctx context.Context, surveyID, questionID string) (map[string]int, error)
	SurveyTally(ctx context.Context, surveyID string, questionIDs []string) (map[string]map[string]int, error)
}

type analyticsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAnalyticsCache creates a new analytics cache
func NewAnalyticsCache(client *redis.Client) AnalyticsCache {
	return &analyticsCache{
		client: client,
		ttl:    24 * time.Hour,
	}
}

func (c *analyticsCache) answersKey(surveyID, questionID string) string {
	return fmt.Sprintf("survey:%s:q:%s:answers", surveyID, questionID)
}

// RecordAnswer stores respondentID's answer; unmatched answers are stored as ""
func (c *analyticsCache) RecordAnswer(ctx context.Context, surveyID, questionID, respondentID, canonical string) error {
	key := c.answersKey(surveyID, questionID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, respondentID, canonical)
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Backfill restores answers (respondentID -> canonical) from persistent
// storage. Answers recorded meanwhile are kept.
func (c *analyticsCache) Backfill(ctx context.Context, surveyID, questionID string, answers map[string]string) error {
	if len(answers) == 0 {
		return nil
	}
	key := c.answersKey(surveyID, questionID)
	pipe := c.client.TxPipeline()
	for respondentID, canonical := range answers {
		pipe.HSetNX(ctx, key, respondentID, canonical)
	}
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// QuestionTally returns an empty map when nothing is cached for the question
func (c *analyticsCache) QuestionTally(ctx context.Context, surveyID, questionID string) (map[string]int, error) {
	raw, err := c.client.HGetAll(ctx, c.answersKey(surveyID, questionID)).Result()
	if err != nil {
		return nil, err
	}
	return tally(raw), nil
}

// SurveyTally only includes questions that have a cached entry
func (c *analyticsCache) SurveyTally(ctx context.Context, surveyID string, questionIDs []string) (map[string]map[string]int, error) {
	pipe := c.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(questionIDs))
	for i, id := range questionIDs {
		cmds[i] = pipe.HGetAll(ctx, c.answersKey(surveyID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	out := make(map[string]map[string]int, len(questionIDs))
	for i, id := range questionIDs {
		raw, err := cmds[i].Result()
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			out[id] = tally(raw)
		}
	}
	return out, nil
}

func tally(byRespondent map[string]string) map[string]int {
	counts := make(map[string]int, len(byRespondent))
	for _, canonical := range byRespondent {
		counts[canonical]++
	}
	return counts
}
