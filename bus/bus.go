// Package bus fans structured engine events out to sinks and batches them
// into the append-only event log through a single writer goroutine.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/metric"
)

const (
	queueName = "events"

	// actionEnqueueWait bounds how long an action event may block the
	// publisher when the queue is full. Context events never wait.
	actionEnqueueWait = 250 * time.Millisecond

	// drainDeadline bounds the shutdown flush.
	drainDeadline = 10 * time.Second
)

// Bus is the engine-wide event channel. Action events (orders, exits,
// stops) are delivered even under backpressure; context events are
// dropped first.
type Bus struct {
	store core.EventStore
	log   logger.Logger

	queue      chan core.Event
	batchSize  int
	flushEvery time.Duration

	subMu sync.RWMutex
	subs  []core.Notifier

	done chan struct{}
}

// New creates the bus over the given event store. A nil store keeps the
// fan-out working without persistence, which tests and dry tools use.
func New(store core.EventStore, cfg config.StorageConfig, log logger.Logger) *Bus {
	batch := cfg.EventBatchSize
	if batch <= 0 {
		batch = 64
	}
	flush := 150 * time.Millisecond
	if d, err := config.ParseDuration(cfg.EventFlushEvery); err == nil && d > 0 {
		flush = d
	}
	return &Bus{
		store:      store,
		log:        log.WithField("component", "bus"),
		queue:      make(chan core.Event, 4*batch),
		batchSize:  batch,
		flushEvery: flush,
		done:       make(chan struct{}),
	}
}

// Subscribe registers a sink. Sinks receive every event and must not
// block; delivery order follows publication order.
func (b *Bus) Subscribe(n core.Notifier) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subs = append(b.subs, n)
}

// Publish enqueues an event. Context events are dropped when the queue
// is full; action events wait briefly and are written through directly
// as a last resort, so a protective action is never lost.
func (b *Bus) Publish(e core.Event) {
	if e.TS.IsZero() {
		e.TS = time.Now()
	}

	select {
	case b.queue <- e:
		metric.EventQueueDepth.WithLabelValues(queueName).Set(float64(len(b.queue)))
		return
	default:
	}

	if !e.Action() {
		metric.EventsDropped.WithLabelValues(queueName).Inc()
		return
	}

	timer := time.NewTimer(actionEnqueueWait)
	defer timer.Stop()
	select {
	case b.queue <- e:
	case <-timer.C:
		b.log.WithField("kind", e.Kind).Warn("event queue saturated, writing action event through")
		b.persist([]core.Event{e})
		b.notify(e)
	}
}

// Depth reports the queue fill level for the health surface
func (b *Bus) Depth() core.QueueReport {
	return core.QueueReport{Name: queueName, Depth: len(b.queue), Capacity: cap(b.queue)}
}

// Run is the single writer loop. It batches events into the store on the
// size or time threshold and fans each event out to subscribers. On
// context cancellation it drains whatever is queued within the shutdown
// deadline, then closes done.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.flushEvery)
	defer ticker.Stop()

	batch := make([]core.Event, 0, b.batchSize)
	for {
		select {
		case <-ctx.Done():
			b.drain(batch)
			return

		case e := <-b.queue:
			metric.EventQueueDepth.WithLabelValues(queueName).Set(float64(len(b.queue)))
			b.notify(e)
			batch = append(batch, e)
			if len(batch) >= b.batchSize {
				b.persist(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.persist(batch)
				batch = batch[:0]
			}
		}
	}
}

// Wait blocks until the writer loop has finished its shutdown drain
func (b *Bus) Wait() {
	<-b.done
}

// drain flushes the open batch plus anything still queued
func (b *Bus) drain(batch []core.Event) {
	deadline := time.After(drainDeadline)
	for {
		select {
		case e := <-b.queue:
			b.notify(e)
			batch = append(batch, e)
		case <-deadline:
			b.persist(batch)
			return
		default:
			b.persist(batch)
			return
		}
	}
}

func (b *Bus) persist(batch []core.Event) {
	if b.store == nil || len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.AppendEvents(ctx, batch); err != nil {
		b.log.WithError(err).Error("event batch lost")
		return
	}
	metric.EventsPersisted.Add(float64(len(batch)))
}

func (b *Bus) notify(e core.Event) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, sub := range b.subs {
		sub.OnEvent(e)
	}
}

var _ core.EventPort = (*Bus)(nil)
