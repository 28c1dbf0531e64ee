package classifier

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/metrics"
	"github.com/ternarybob/agentstream/internal/models"
)

const (
	DefaultDrainInterval = 100 * time.Millisecond
	DefaultBurst         = 1

	// maxPartialLine bounds how much of an unterminated line is held back
	maxPartialLine = 64 * 1024
)

// StreamConfig tunes drain pacing
type StreamConfig struct {
	DrainInterval time.Duration // Minimum spacing between drains
	Burst         int           // Drains allowed back to back before pacing applies
}

// Stream is the per-session io.Writer the automation engine logs into.
// Writes only append to a buffer and signal the drain loop; the loop wakes on
// that signal, paced by a rate limiter, and publishes one log event per
// classified line. A trailing line without a newline is held until it is
// completed or the stream closes.
type Stream struct {
	sessionID string
	publisher interfaces.EventPublisher
	limiter   *rate.Limiter
	logger    arbor.ILogger

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool

	notify    chan struct{}
	closing   chan struct{}
	finished  chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewStream creates a stream for one session
func NewStream(sessionID string, publisher interfaces.EventPublisher, config StreamConfig, logger arbor.ILogger) *Stream {
	interval := config.DrainInterval
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	burst := config.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}

	return &Stream{
		sessionID: sessionID,
		publisher: publisher,
		limiter:   rate.NewLimiter(rate.Every(interval), burst),
		logger:    logger,
		notify:    make(chan struct{}, 1),
		closing:   make(chan struct{}),
		finished:  make(chan struct{}),
	}
}

// Write appends raw engine output. It never blocks on observers.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return len(p), nil
	}
	s.buf.Write(p)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Start publishes the session-start marker and launches the drain loop.
// The loop exits when ctx is done or Close is called, flushing what remains.
func (s *Stream) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.publishMarker(MessageStarted)
		go s.loop(ctx)
	})
}

// Close flushes buffered text, stops the drain loop and publishes the
// session-end marker. Safe to call more than once; later calls are no-ops.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		started := true
		s.startOnce.Do(func() { started = false })

		close(s.closing)
		if started {
			<-s.finished
		} else {
			s.drain(true)
		}

		s.publishMarker(MessageEnded)
	})
}

func (s *Stream) loop(ctx context.Context) {
	defer close(s.finished)

	for {
		select {
		case <-ctx.Done():
			s.drain(true)
			return
		case <-s.closing:
			s.drain(true)
			return
		case <-s.notify:
			if err := s.limiter.Wait(ctx); err != nil {
				s.drain(true)
				return
			}
			s.drain(false)
		}
	}
}

// drain takes every complete line from the buffer, or everything when final
func (s *Stream) drain(final bool) {
	s.mu.Lock()
	data := s.buf.Bytes()
	n := len(data)
	if !final {
		if idx := bytes.LastIndexByte(data, '\n'); idx >= 0 {
			n = idx + 1
		} else if len(data) < maxPartialLine {
			n = 0
		}
	}
	chunk := string(s.buf.Next(n))
	s.mu.Unlock()

	if chunk == "" {
		return
	}

	lines := 0
	for _, line := range strings.Split(strings.TrimSuffix(chunk, "\n"), "\n") {
		lines++
		msg, ok := Classify(line)
		if !ok {
			metrics.ClassifiedLinesTotal.WithLabelValues("discarded").Inc()
			continue
		}
		metrics.ClassifiedLinesTotal.WithLabelValues(string(msg.Category)).Inc()
		s.publish(msg)
	}

	s.logger.Trace().Str("session_id", s.sessionID).Int("lines", lines).Msg("Drained engine log buffer")
}

func (s *Stream) publish(msg models.LogMessage) {
	msg.Timestamp = time.Now().Format(time.RFC3339)
	s.publisher.Publish(models.NewEvent(models.EventLog, s.sessionID, msg))
}

func (s *Stream) publishMarker(message string) {
	s.publish(stepMessage(message, InfoSession))
}
