package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sentimatrix-automation/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const consumeBlock = 2 * time.Second

// EventQueue carries domain events from producers to the dispatcher over a
// Redis list. Producers LPUSH, the consumer BRPOPs, so events leave in
// arrival order.
type EventQueue struct {
	client *goredis.Client
	key    string
	log    zerolog.Logger
}

// NewEventQueue creates a Redis-backed event queue.
func NewEventQueue(client *goredis.Client, prefix string, log zerolog.Logger) *EventQueue {
	return &EventQueue{
		client: client,
		key:    prefix + "events",
		log:    log,
	}
}

// Publish enqueues an event. It implements ports.EventPublisher.
func (q *EventQueue) Publish(ctx context.Context, e domain.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("redis event publish: %w", err)
	}
	return nil
}

// Consume pops events and passes them to handle until ctx is cancelled.
// Undecodable entries are logged and dropped.
func (q *EventQueue) Consume(ctx context.Context, handle func(context.Context, domain.Event) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := q.client.BRPop(ctx, consumeBlock, q.key).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			q.log.Error().Err(err).Msg("event queue pop failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		// res is [key, value]
		if len(res) != 2 {
			continue
		}
		var e domain.Event
		if err := json.Unmarshal([]byte(res[1]), &e); err != nil {
			q.log.Warn().Err(err).Msg("dropping undecodable event")
			continue
		}
		if err := handle(ctx, e); err != nil {
			q.log.Error().Err(err).Str("event_id", e.ID).Str("event_type", string(e.Type)).Msg("event handler failed")
		}
	}
}
