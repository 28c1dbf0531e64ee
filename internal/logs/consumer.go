// Package logs bridges the root logger to the event bus: session-correlated
// log entries become Log events on that session's feed.
package logs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/models"
)

// LoggerName is carried in the logger_name field of republished entries
const LoggerName = "agentstream"

// batchBuffer is how many arbor batches may queue before the writer blocks
const batchBuffer = 10

// closedRetention is how long a closed session keeps rejecting late entries
const closedRetention = time.Hour

// transportPrefixes mark server plumbing messages that would only echo
// the feed back to its own observers.
var transportPrefixes = []string{"HTTP ", "WebSocket client", "SSE client"}

var levelsByName = map[string]arbor.LogLevel{
	"debug":   arbor.DebugLevel,
	"info":    arbor.InfoLevel,
	"warn":    arbor.WarnLevel,
	"warning": arbor.WarnLevel,
	"error":   arbor.ErrorLevel,
}

// ParseLevel maps a config level name to an arbor level; unknown names are info.
func ParseLevel(name string) arbor.LogLevel {
	if level, ok := levelsByName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return level
	}
	return arbor.InfoLevel
}

// Consumer receives log batches on arbor's "context" channel and publishes
// the session-correlated ones as Log events. Entries for a session closed
// through CloseSession are dropped.
type Consumer struct {
	publisher interfaces.EventPublisher
	logger    arbor.ILogger
	batches   chan []arbormodels.LogEvent
	minLevel  arbor.LogLevel

	// gateMu is held across the closed check and Publish so a close
	// cannot interleave between them
	gateMu sync.Mutex
	closed map[string]time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewConsumer(publisher interfaces.EventPublisher, logger arbor.ILogger, minEventLevel string) *Consumer {
	return &Consumer{
		publisher: publisher,
		logger:    logger,
		batches:   make(chan []arbormodels.LogEvent, batchBuffer),
		minLevel:  ParseLevel(minEventLevel),
		closed:    make(map[string]time.Time),
		done:      make(chan struct{}),
	}
}

// GetChannel is registered with arbor via SetChannel.
func (c *Consumer) GetChannel() chan []arbormodels.LogEvent {
	return c.batches
}

func (c *Consumer) Start() error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// c.logger is uncorrelated, so a panic report cannot loop back here
		defer common.Recover(c.logger, "log-consumer")
		c.run()
	}()
	return nil
}

// Stop ends consumption; batches still queued are discarded.
func (c *Consumer) Stop() error {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	c.logger.Debug().Msg("Log consumer stopped")
	return nil
}

func (c *Consumer) run() {
	for {
		select {
		case <-c.done:
			return
		case batch, ok := <-c.batches:
			if !ok {
				return
			}
			c.publishBatch(batch)
		}
	}
}

func (c *Consumer) publishBatch(batch []arbormodels.LogEvent) {
	for _, entry := range batch {
		msg, ok := c.transform(entry)
		if !ok {
			continue
		}
		c.gateMu.Lock()
		if _, closed := c.closed[entry.CorrelationID]; !closed {
			c.publisher.Publish(models.NewEvent(models.EventLog, entry.CorrelationID, msg))
		}
		c.gateMu.Unlock()
	}
}

// OpenSession lets entries for sessionID through again, for a session id
// that is reused after an earlier run closed it.
func (c *Consumer) OpenSession(sessionID string) {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()
	delete(c.closed, sessionID)
}

// CloseSession drops every later entry for sessionID. When it returns, no
// entry for the session is being published.
func (c *Consumer) CloseSession(sessionID string) {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()

	now := time.Now()
	for id, at := range c.closed {
		if now.Sub(at) > closedRetention {
			delete(c.closed, id)
		}
	}
	c.closed[sessionID] = now
}

// transform converts an arbor entry into a Log payload. Entries without a
// session correlation, below the threshold, or from transport plumbing
// are skipped.
func (c *Consumer) transform(entry arbormodels.LogEvent) (models.LogMessage, bool) {
	if !common.IsSessionID(entry.CorrelationID) || arborlevels.FromLogLevel(entry.Level) < c.minLevel {
		return models.LogMessage{}, false
	}
	for _, prefix := range transportPrefixes {
		if strings.HasPrefix(entry.Message, prefix) {
			return models.LogMessage{}, false
		}
	}

	at := entry.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	msg := models.LogMessage{
		Timestamp:  at.Format(time.RFC3339),
		Level:      observerLevel(entry.Level),
		LoggerName: LoggerName,
		Message:    entry.Message,
		Category:   models.LogCategoryMessage,
	}
	if len(entry.Fields) == 0 {
		return msg, true
	}

	// Fields are appended as key=value in key order so the text is stable
	keys := make([]string, 0, len(entry.Fields))
	for key := range entry.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var text strings.Builder
	text.WriteString(entry.Message)
	msg.Metadata = make(map[string]interface{}, len(keys))
	for _, key := range keys {
		msg.Metadata[key] = entry.Fields[key]
		fmt.Fprintf(&text, " %s=%v", key, entry.Fields[key])
	}
	msg.Message = text.String()
	return msg, true
}

// observerLevel renders a phuslu level with the names observers expect
func observerLevel(level log.Level) string {
	switch level {
	case log.TraceLevel, log.DebugLevel:
		return "DEBUG"
	case log.WarnLevel:
		return "WARNING"
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		return "ERROR"
	}
	return "INFO"
}
