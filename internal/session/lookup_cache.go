package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"moodlog/api/internal/logger"
)

// LookupSource is the uncached lookup backend.
type LookupSource interface {
	ListEmotions(ctx context.Context) ([]map[string]any, error)
	ListAssociations(ctx context.Context) ([]map[string]any, error)
	ListQuestions(ctx context.Context, ids []string) ([]map[string]any, error)
}

// LookupCache serves lookup lists from Redis and falls through to the source
// on a miss. Redis failures are logged and never fail the request.
type LookupCache struct {
	source LookupSource
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    *logger.Logger
}

func NewLookupCache(source LookupSource, client *redis.Client, ttl time.Duration, log *logger.Logger) *LookupCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &LookupCache{source: source, client: client, ttl: ttl, prefix: "lookups:", log: log}
}

func (c *LookupCache) ListEmotions(ctx context.Context) ([]map[string]any, error) {
	return c.cached(ctx, "emotions", func() ([]map[string]any, error) {
		return c.source.ListEmotions(ctx)
	})
}

func (c *LookupCache) ListAssociations(ctx context.Context) ([]map[string]any, error) {
	return c.cached(ctx, "associations", func() ([]map[string]any, error) {
		return c.source.ListAssociations(ctx)
	})
}

func (c *LookupCache) ListQuestions(ctx context.Context, ids []string) ([]map[string]any, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return c.cached(ctx, "questions:"+strings.Join(sorted, ","), func() ([]map[string]any, error) {
		return c.source.ListQuestions(ctx, ids)
	})
}

// Invalidate drops every cached lookup list.
func (c *LookupCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *LookupCache) cached(ctx context.Context, name string, load func() ([]map[string]any, error)) ([]map[string]any, error) {
	key := c.prefix + name
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rows []map[string]any
		if jsonErr := json.Unmarshal(raw, &rows); jsonErr == nil {
			return rows, nil
		}
		c.log.Warn("discarding unreadable cached lookup", "key", key)
	case !errors.Is(err, redis.Nil):
		c.log.Warn("lookup cache read failed", "key", key, "error", err)
	}

	rows, err := load()
	if err != nil {
		return nil, err
	}
	if payload, jsonErr := json.Marshal(rows); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
			c.log.Warn("lookup cache write failed", "key", key, "error", setErr)
		}
	}
	return rows, nil
}
