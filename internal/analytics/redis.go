// Package analytics records send counts in Redis, best-effort. A missing or
// failing Redis never affects dispatch.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRetention keeps per-day send counters for 90 days.
const DefaultRetention = 90 * 24 * time.Hour

// RedisSink counts fires per schedule per day bucket with TTL expiry.
type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisSink{client: client, retention: retention}
}

// Record increments the day-bucket counter for one successful fire.
func (s *RedisSink) Record(ctx context.Context, scheduleID uuid.UUID, firedAt time.Time) error {
	key := buildKey(scheduleID.String(), firedAt)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func buildKey(scheduleID string, t time.Time) string {
	return fmt.Sprintf("sched:%s:sent:%s", scheduleID, t.UTC().Format("20060102"))
}
