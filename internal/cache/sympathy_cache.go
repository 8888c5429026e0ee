package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SympathyCache remembers generated acknowledgment lines so repeated answers
// to the same question do not hit the model again
type SympathyCache interface {
	Get(ctx context.Context, questionText, answer string) (string, error)
	Set(ctx context.Context, questionText, answer, line string) error
}

type sympathyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSympathyCache creates a new sympathy cache
func NewSympathyCache(client *redis.Client) SympathyCache {
	return &sympathyCache{
		client: client,
		ttl:    24 * time.Hour,
	}
}

func (c *sympathyCache) key(questionText, answer string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(questionText)) + "|" + strings.ToLower(strings.TrimSpace(answer))))
	return "sympathy:" + hex.EncodeToString(sum[:])
}

// Get returns "" on a miss
func (c *sympathyCache) Get(ctx context.Context, questionText, answer string) (string, error) {
	line, err := c.client.Get(ctx, c.key(questionText, answer)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return line, err
}

func (c *sympathyCache) Set(ctx context.Context, questionText, answer, line string) error {
	return c.client.Set(ctx, c.key(questionText, answer), line, c.ttl).Err()
}
