package events

import (
	"context"
	"sync"

	"github.com/ternarybob/agentstream/internal/metrics"
	"github.com/ternarybob/agentstream/internal/models"
)

// DefaultQueueSize is used when the configured queue size is not positive
const DefaultQueueSize = 1024

// Bus is the single ordered queue between producers and the broadcaster.
// Many goroutines may Publish; exactly one should call Next.
//
// Publish never blocks: when the queue is full or the bus is closed the event is
// dropped and counted. The bus does not log on this path because log entries are
// themselves republished onto the bus.
type Bus struct {
	queue     chan models.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewBus creates a bus holding at most size undelivered events
func NewBus(size int) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Bus{
		queue: make(chan models.Event, size),
		done:  make(chan struct{}),
	}
}

// Publish enqueues an event without blocking
func (b *Bus) Publish(event models.Event) {
	select {
	case <-b.done:
		metrics.IncEventDropped(string(event.Kind), "closed")
		return
	default:
	}

	select {
	case b.queue <- event:
		metrics.EventsPublishedTotal.WithLabelValues(string(event.Kind)).Inc()
	default:
		metrics.IncEventDropped(string(event.Kind), "full")
	}
}

// Next blocks until an event is available, ctx is done, or the bus is closed.
// Events already queued at Close are still returned before ErrBusClosed.
func (b *Bus) Next(ctx context.Context) (models.Event, error) {
	select {
	case event := <-b.queue:
		return event, nil
	default:
	}

	select {
	case event := <-b.queue:
		return event, nil
	case <-ctx.Done():
		return models.Event{}, ctx.Err()
	case <-b.done:
		select {
		case event := <-b.queue:
			return event, nil
		default:
			return models.Event{}, models.ErrBusClosed
		}
	}
}

// Len returns the number of queued events
func (b *Bus) Len() int {
	return len(b.queue)
}

// Close stops accepting events. It is safe to call more than once.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
}
