package service

import (
	"context"
	"errors"
	"sync"

	"sentimatrix-automation/internal/core/domain"

	"github.com/rs/zerolog"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// EventHandler processes one event taken off the bus.
type EventHandler func(ctx context.Context, e domain.Event) error

// EventBus is an in-process queue with a fixed pool of workers. Publish
// blocks while the buffer is full, which pushes back on the producer.
type EventBus struct {
	handler EventHandler
	workers int
	events  chan domain.Event
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewEventBus creates a bus. Call Start before publishing.
func NewEventBus(handler EventHandler, workers, buffer int, log zerolog.Logger) *EventBus {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &EventBus{
		handler: handler,
		workers: workers,
		events:  make(chan domain.Event, buffer),
		log:     log,
	}
}

// Start launches the workers. They exit when Close drains the buffer.
func (b *EventBus) Start(ctx context.Context) {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for e := range b.events {
				if err := b.handler(ctx, e); err != nil {
					b.log.Error().Err(err).
						Str("event_id", e.ID).
						Str("event_type", string(e.Type)).
						Msg("event handling failed")
				}
			}
		}()
	}
}

// Publish queues e. It implements ports.EventPublisher.
func (b *EventBus) Publish(ctx context.Context, e domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake and waits for queued events to be handled.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()
	b.wg.Wait()
}
