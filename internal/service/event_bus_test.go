package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sentimatrix-automation/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_HandlesEveryEvent(t *testing.T) {
	var handled atomic.Int32
	bus := NewEventBus(func(ctx context.Context, e domain.Event) error {
		handled.Add(1)
		return nil
	}, 3, 10, newTestLogger())
	bus.Start(context.Background())

	for i := 0; i < 25; i++ {
		require.NoError(t, bus.Publish(context.Background(), domain.NewEvent(domain.EventJobStarted, "u1", "p1", nil)))
	}
	bus.Close()

	assert.Equal(t, int32(25), handled.Load())
}

func TestEventBus_HandlerErrorDoesNotStopWorkers(t *testing.T) {
	var handled atomic.Int32
	bus := NewEventBus(func(ctx context.Context, e domain.Event) error {
		handled.Add(1)
		return errors.New("boom")
	}, 1, 2, newTestLogger())
	bus.Start(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), domain.NewEvent(domain.EventJobFailed, "u1", "p1", nil)))
	}
	bus.Close()
	assert.Equal(t, int32(3), handled.Load())
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	bus := NewEventBus(func(context.Context, domain.Event) error { return nil }, 1, 1, newTestLogger())
	bus.Start(context.Background())
	bus.Close()
	bus.Close()

	err := bus.Publish(context.Background(), domain.NewEvent(domain.EventJobStarted, "u1", "p1", nil))
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestEventBus_PublishBlocksUntilContextDone(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	bus := NewEventBus(func(context.Context, domain.Event) error {
		<-release
		return nil
	}, 1, 0, newTestLogger())
	bus.Start(context.Background())
	defer func() {
		once.Do(func() { close(release) })
		bus.Close()
	}()

	// The single worker takes this one and blocks in the handler.
	require.NoError(t, bus.Publish(context.Background(), domain.NewEvent(domain.EventJobStarted, "u1", "p1", nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, domain.NewEvent(domain.EventJobStarted, "u1", "p1", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
