package qcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"askdocs/pkg/domain"
)

func testCache(t *testing.T, ttl time.Duration) (*AnswerCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAnswerCache(client, ttl), mr
}

func TestAnswerCacheRoundTrip(t *testing.T) {
	cache, _ := testCache(t, time.Minute)
	ctx := context.Background()
	key := Key{UserID: "alice", Question: "What is the warranty period?", K: 5}
	answer := domain.Answer{
		Text:       "Two years [1].",
		Confidence: 0.82,
		Sources:    []domain.Source{{DocumentID: "d1", Title: "Manual", Page: 3, Score: 0.82, Snippet: "warranty lasts two years"}},
	}

	if _, hit, err := cache.Get(ctx, key); err != nil || hit {
		t.Fatalf("expected miss before set, hit=%v err=%v", hit, err)
	}
	if err := cache.Set(ctx, key, answer); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, hit, err := cache.Get(ctx, key)
	if err != nil || !hit {
		t.Fatalf("expected hit, hit=%v err=%v", hit, err)
	}
	if got.Text != answer.Text || len(got.Sources) != 1 || got.Sources[0].Page != 3 {
		t.Fatalf("unexpected cached answer: %+v", got)
	}
}

func TestAnswerCacheNormalizesQuestion(t *testing.T) {
	cache, _ := testCache(t, time.Minute)
	ctx := context.Background()
	if err := cache.Set(ctx, Key{UserID: "alice", Question: "What IS   the warranty?", K: 5}, domain.Answer{Text: "cached"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, hit, err := cache.Get(ctx, Key{UserID: "alice", Question: "  what is the warranty?", K: 5})
	if err != nil || !hit {
		t.Fatalf("expected hit for normalized question, hit=%v err=%v", hit, err)
	}
	if got.Text != "cached" {
		t.Fatalf("unexpected answer: %q", got.Text)
	}
}

func TestAnswerCacheKeyIsolation(t *testing.T) {
	cache, _ := testCache(t, time.Minute)
	ctx := context.Background()
	base := Key{UserID: "alice", Question: "what is this?", K: 5}
	if err := cache.Set(ctx, base, domain.Answer{Text: "base"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	for name, other := range map[string]Key{
		"different user":  {UserID: "bob", Question: base.Question, K: base.K},
		"different scope": {UserID: base.UserID, DocumentID: "d1", Question: base.Question, K: base.K},
		"different k":     {UserID: base.UserID, Question: base.Question, K: 3},
		"anonymous":       {Question: base.Question, K: base.K},
	} {
		if _, hit, err := cache.Get(ctx, other); err != nil || hit {
			t.Fatalf("%s must not share the cache entry, hit=%v err=%v", name, hit, err)
		}
	}
}

func TestAnswerCacheExpires(t *testing.T) {
	cache, mr := testCache(t, time.Minute)
	ctx := context.Background()
	key := Key{UserID: "alice", Question: "expiring?", K: 5}
	if err := cache.Set(ctx, key, domain.Answer{Text: "soon gone"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, hit, err := cache.Get(ctx, key); err != nil || hit {
		t.Fatalf("expected expired entry to miss, hit=%v err=%v", hit, err)
	}
}
