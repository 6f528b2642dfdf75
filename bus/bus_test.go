package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
)

type memStore struct {
	mu     sync.Mutex
	events []core.Event
}

func (m *memStore) AppendEvents(_ context.Context, events []core.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *memStore) RecentEvents(context.Context, int) ([]core.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Event, len(m.events))
	copy(out, m.events)
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type recordingSink struct {
	mu    sync.Mutex
	kinds []core.EventKind
}

func (r *recordingSink) OnEvent(e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, e.Kind)
}

func (r *recordingSink) seen() []core.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventKind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

func storageConfig() config.StorageConfig {
	return config.StorageConfig{EventBatchSize: 4, EventFlushEvery: "20ms"}
}

func TestBusDeliversAndPersists(t *testing.T) {
	store := &memStore{}
	sink := &recordingSink{}

	b := New(store, storageConfig(), logger.Nop())
	b.Subscribe(sink)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	for i := 0; i < 5; i++ {
		b.Publish(core.NewEvent(time.Now(), "test", core.EventDecision, core.SeverityInfo))
	}

	require.Eventually(t, func() bool {
		return store.count() >= 5 && len(sink.seen()) >= 5
	}, time.Second, 10*time.Millisecond)

	cancel()
	b.Wait()
}

func TestBusDropsContextEventsWhenFull(t *testing.T) {
	b := New(nil, config.StorageConfig{EventBatchSize: 1, EventFlushEvery: "1h"}, logger.Nop())
	// No Run loop: the queue only fills.

	for i := 0; i < cap(b.queue)+10; i++ {
		b.Publish(core.NewEvent(time.Now(), "test", core.EventTickDropped, core.SeverityDebug))
	}

	require.Equal(t, cap(b.queue), len(b.queue), "overflow context events must be dropped, not queued")
}

func TestBusNeverDropsActionEvents(t *testing.T) {
	store := &memStore{}
	b := New(store, config.StorageConfig{EventBatchSize: 1, EventFlushEvery: "1h"}, logger.Nop())

	for i := 0; i < cap(b.queue); i++ {
		b.Publish(core.NewEvent(time.Now(), "test", core.EventTickDropped, core.SeverityDebug))
	}
	// Queue is full and no writer is running: the action event must be
	// written through to the store instead of dropped.
	b.Publish(core.NewEvent(time.Now(), "exit", core.EventExitTransition, core.SeverityInfo))

	require.Equal(t, 1, store.count())
}

func TestBusDrainsOnShutdown(t *testing.T) {
	store := &memStore{}
	b := New(store, config.StorageConfig{EventBatchSize: 100, EventFlushEvery: "1h"}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	for i := 0; i < 7; i++ {
		b.Publish(core.NewEvent(time.Now(), "test", core.EventDecision, core.SeverityInfo))
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	b.Wait()

	require.Equal(t, 7, store.count())
}
