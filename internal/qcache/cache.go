// Package qcache caches composed answers in Redis for a short TTL so
// repeated identical questions skip retrieval and generation.
package qcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"askdocs/pkg/domain"
)

const DefaultTTL = 60 * time.Second

const keyPrefix = "qa:answer"

// Key identifies one cached answer. Two asks hit the same entry only when
// the viewer, scope, normalized question, and k all match.
type Key struct {
	UserID     string
	DocumentID string
	Question   string
	K          int
}

func (k Key) redisKey() string {
	user := strings.TrimSpace(k.UserID)
	if user == "" {
		user = domain.AnonymousKey
	}
	scope := strings.TrimSpace(k.DocumentID)
	if scope == "" {
		scope = "all"
	}
	question := strings.ToLower(strings.Join(strings.Fields(k.Question), " "))
	sum := sha256.Sum256([]byte(question))
	return fmt.Sprintf("%s:%s:%s:%d:%s", keyPrefix, user, scope, k.K, hex.EncodeToString(sum[:]))
}

// AnswerCache stores answers keyed by viewer, scope, question, and k.
type AnswerCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAnswerCache builds a cache around an existing Redis client.
func NewAnswerCache(client *redis.Client, ttl time.Duration) *AnswerCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &AnswerCache{client: client, ttl: ttl}
}

// Get returns the cached answer for the key, if present and fresh.
func (c *AnswerCache) Get(ctx context.Context, key Key) (domain.Answer, bool, error) {
	raw, err := c.client.Get(ctx, key.redisKey()).Result()
	if err == redis.Nil {
		return domain.Answer{}, false, nil
	}
	if err != nil {
		return domain.Answer{}, false, err
	}
	var answer domain.Answer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		// A corrupt entry is treated as a miss; it expires on its own.
		return domain.Answer{}, false, nil
	}
	return answer, true, nil
}

// Set stores the answer under the key for the cache TTL.
func (c *AnswerCache) Set(ctx context.Context, key Key, answer domain.Answer) error {
	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	return c.client.Set(ctx, key.redisKey(), raw, c.ttl).Err()
}
