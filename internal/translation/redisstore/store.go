// Package redisstore shares translations between processes through Redis.
package redisstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/GriffinCanCode/live-translator/backend/platform/internal/translation"
)

const keyPrefix = "lt:tr"

// Store is a translation memory in front of another backend. Redis failures
// degrade to calling the inner backend directly.
type Store struct {
	rdb    redis.Cmdable
	inner  translation.Backend
	ttl    time.Duration
	logger *slog.Logger
}

// Connect parses url, pings the server and returns a client.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// New wraps inner. A non-positive ttl stores entries without expiry.
func New(rdb redis.Cmdable, inner translation.Backend, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Store{rdb: rdb, inner: inner, ttl: ttl, logger: logger}
}

// Key returns the Redis key for text under pair.
func Key(pair translation.Pair, text string) string {
	return fmt.Sprintf("%s:%s:%s:%016x", keyPrefix, pair.Source, pair.Target, xxhash.Sum64String(text))
}

// TranslateBatch implements translation.Backend.
func (s *Store) TranslateBatch(ctx context.Context, texts []string, pair translation.Pair) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = Key(pair, t)
	}

	out := make([]string, len(texts))
	var missIdx []int

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		s.logger.Warn("translation memory lookup failed", "error", err, "pair", pair.String())
		vals = make([]any, len(texts))
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[i] = str
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = texts[i]
	}
	translated, err := s.inner.TranslateBatch(ctx, missTexts, pair)
	if err != nil {
		return nil, err
	}
	if len(translated) != len(missTexts) {
		return nil, fmt.Errorf("inner backend returned %d translations for %d texts", len(translated), len(missTexts))
	}

	pipe := s.rdb.Pipeline()
	for j, i := range missIdx {
		out[i] = translated[j]
		pipe.Set(ctx, keys[i], translated[j], s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("translation memory store failed", "error", err, "count", len(missIdx))
	}
	return out, nil
}
