package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// EventDedup implements ports.EventDeduplicator using Redis SET NX.
type EventDedup struct {
	client *goredis.Client
	prefix string
}

// NewEventDedup creates a Redis-backed event deduplicator.
func NewEventDedup(client *goredis.Client, prefix string) *EventDedup {
	return &EventDedup{
		client: client,
		prefix: prefix + "event:seen:",
	}
}

// FirstSeen marks eventID as seen for ttl. It returns true only for the
// first caller presenting the ID within that window.
func (d *EventDedup) FirstSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	result, err := d.client.SetArgs(ctx, d.prefix+eventID, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis event dedup: %w", err)
	}
	return result == "OK", nil
}
