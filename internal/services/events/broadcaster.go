package events

import (
	"context"
	"errors"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/metrics"
	"github.com/ternarybob/agentstream/internal/models"
)

// DefaultSendConcurrency bounds parallel sends for one event
const DefaultSendConcurrency = 16

// Broadcaster is the single consumer of the bus. For each event it computes the
// audience, encodes once, sends to every member independently and prunes the
// connections whose send failed. All sends for one event finish before the next
// event is taken, so every connection sees events in bus order.
type Broadcaster struct {
	bus         *Bus
	registry    *Registry
	logger      arbor.ILogger
	concurrency int
}

// NewBroadcaster creates a broadcaster draining bus into the connections held by registry
func NewBroadcaster(bus *Bus, registry *Registry, concurrency int, logger arbor.ILogger) *Broadcaster {
	if concurrency <= 0 {
		concurrency = DefaultSendConcurrency
	}

	return &Broadcaster{
		bus:         bus,
		registry:    registry,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Run dispatches events until ctx is cancelled or the bus is closed and drained
func (b *Broadcaster) Run(ctx context.Context) error {
	b.logger.Debug().Int("send_concurrency", b.concurrency).Msg("Broadcaster started")

	for {
		event, err := b.bus.Next(ctx)
		if err != nil {
			if errors.Is(err, models.ErrBusClosed) || errors.Is(err, context.Canceled) {
				b.logger.Debug().Msg("Broadcaster stopped")
				return nil
			}
			return err
		}

		b.Dispatch(event)
	}
}

// Dispatch fans one event out to its current audience
func (b *Broadcaster) Dispatch(event models.Event) {
	audience := b.registry.Audience(event.SessionID)
	if len(audience) == 0 {
		metrics.IncEventDropped(string(event.Kind), "no_audience")
		return
	}

	data, err := models.Encode(event)
	if err != nil {
		metrics.IncEventDropped(string(event.Kind), "encode")
		b.logger.Warn().Err(err).Str("kind", string(event.Kind)).Msg("Failed to encode event")
		return
	}

	var (
		mu     sync.Mutex
		failed []interfaces.Connection
	)

	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)

	for _, conn := range audience {
		conn := conn
		g.Go(func() error {
			if err := conn.Send(data); err != nil {
				metrics.RecordDelivery(false)
				mu.Lock()
				failed = append(failed, conn)
				mu.Unlock()
				return nil
			}
			metrics.RecordDelivery(true)
			return nil
		})
	}
	_ = g.Wait()

	metrics.EventsDispatchedTotal.WithLabelValues(string(event.Kind)).Inc()

	for _, conn := range failed {
		b.registry.Remove(conn)
		_ = conn.Close()
		metrics.ConnectionsPrunedTotal.Inc()
	}

	if len(failed) > 0 {
		b.logger.Debug().
			Int("pruned", len(failed)).
			Int("audience", len(audience)).
			Str("kind", string(event.Kind)).
			Msg("Pruned connections after failed delivery")
	}
}
