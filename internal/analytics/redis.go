// Package analytics records per-owner delivery outcome counters in Redis.
// Counters are bucketed by hour and expire after a configurable retention,
// giving owners a rolling view of sent/retried/failed volumes without
// touching the job store.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRetention keeps thirty days of hourly buckets.
const DefaultRetention = 30 * 24 * time.Hour

// RedisSink is best-effort: Record never blocks dispatch on Redis health,
// and failures are logged rather than returned.
type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, retention: DefaultRetention}
}

// WithRetention overrides the bucket TTL.
func (s *RedisSink) WithRetention(retention time.Duration) *RedisSink {
	s.retention = retention
	return s
}

// Record increments the outcome counter for the owner's current hourly bucket.
func (s *RedisSink) Record(ctx context.Context, ownerID uuid.UUID, outcome string, at time.Time) {
	key := buildKey(ownerID, outcome, at)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: record %s: %v", key, err)
	}
}

func buildKey(ownerID uuid.UUID, outcome string, t time.Time) string {
	return fmt.Sprintf("o:%s:%s:%s", ownerID, outcome, t.UTC().Format("2006010215"))
}
