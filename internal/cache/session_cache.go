package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"voicesurvey/internal/model"
)

// SessionCache tracks live voice sessions so hosts can watch progress.
// Sessions of one survey share a hash keyed by respondent id.
type SessionCache interface {
	Set(ctx context.Context, session *model.VoiceSession) error
	Get(ctx context.Context, surveyID, respondentID string) (*model.VoiceSession, error)
	List(ctx context.Context, surveyID string) ([]*model.VoiceSession, error)
	Delete(ctx context.Context, surveyID, respondentID string) error
}

type sessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionCache(client *redis.Client, ttl time.Duration) SessionCache {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &sessionCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *sessionCache) key(surveyID string) string {
	return fmt.Sprintf("survey:%s:sessions", surveyID)
}

func (c *sessionCache) Set(ctx context.Context, session *model.VoiceSession) error {
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	key := c.key(session.SurveyID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, session.RespondentID, data)
	pipe.Expire(ctx, key, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *sessionCache) Get(ctx context.Context, surveyID, respondentID string) (*model.VoiceSession, error) {
	data, err := c.client.HGet(ctx, c.key(surveyID), respondentID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session model.VoiceSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns the sessions of a survey, most recently updated first.
// Entries not updated within the TTL are left over from a server that went
// away; they are skipped and removed.
func (c *sessionCache) List(ctx context.Context, surveyID string) ([]*model.VoiceSession, error) {
	key := c.key(surveyID)
	data, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-c.ttl)
	sessions := make([]*model.VoiceSession, 0, len(data))
	var stale []string
	for respondentID, raw := range data {
		var s model.VoiceSession
		if err := json.Unmarshal([]byte(raw), &s); err != nil || s.UpdatedAt.Before(cutoff) {
			stale = append(stale, respondentID)
			continue
		}
		sessions = append(sessions, &s)
	}
	if len(stale) > 0 {
		if err := c.client.HDel(ctx, key, stale...).Err(); err != nil {
			return nil, err
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (c *sessionCache) Delete(ctx context.Context, surveyID, respondentID string) error {
	return c.client.HDel(ctx, c.key(surveyID), respondentID).Err()
}
