package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RedisWindow counts requests per subject in fixed windows shared by every
// API replica through Redis.
type RedisWindow struct {
	client    redis.UniversalClient
	limit     int64
	window    time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewRedisWindow(client redis.UniversalClient, limit int, window time.Duration, keyPrefix string) (*RedisWindow, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	if window < time.Millisecond {
		return nil, fmt.Errorf("window must be at least 1ms")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "pixelfilter:ratelimit"
	}

	return &RedisWindow{
		client:    client,
		limit:     int64(limit),
		window:    window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

func (l *RedisWindow) Allow(ctx context.Context, subject string) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}

	now := l.now().UTC()
	start := now.Truncate(l.window)
	key := fmt.Sprintf("%s:%s:%d", l.keyPrefix, subject, start.UnixMilli())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("count request: %w", err)
	}

	return decide(incr.Val(), l.limit, now, start.Add(l.window)), nil
}

func decide(count, limit int64, now, resetAt time.Time) Decision {
	if count <= limit {
		return Decision{Allowed: true, Remaining: limit - count}
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: resetAt.Sub(now)}
}
