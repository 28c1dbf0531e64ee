package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/models"
	"github.com/ternarybob/agentstream/internal/services/events"
)

var errStreamClosed = errors.New("event stream closed")

// completedPrefix identifies an encoded agent_completed envelope
var completedPrefix = []byte(`{"type":"` + string(models.EventAgentCompleted) + `"`)

// sseConnection adapts a Server-Sent Events response to interfaces.Connection
type sseConnection struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration

	mu        sync.Mutex
	isClosed  bool
	closed    chan struct{}
	completed chan struct{} // Closed once an agent_completed event has been written
	seenDone  bool
}

func newSSEConnection(w http.ResponseWriter, writeTimeout time.Duration) *sseConnection {
	return &sseConnection{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
		completed:    make(chan struct{}),
	}
}

// Send writes one "data:" frame and flushes it
func (c *sseConnection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return errStreamClosed
	}
	if err := c.write("data: %s\n\n", data); err != nil {
		return err
	}

	if !c.seenDone && bytes.HasPrefix(data, completedPrefix) {
		c.seenDone = true
		close(c.completed)
	}
	return nil
}

func (c *sseConnection) heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return errStreamClosed
	}
	return c.write(": ping\n\n")
}

func (c *sseConnection) write(format string, args ...interface{}) error {
	// Deadline support depends on the server's writer; ignore ErrNotSupported
	_ = c.rc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if _, err := fmt.Fprintf(c.w, format, args...); err != nil {
		return err
	}
	return c.rc.Flush()
}

// Close marks the stream finished. The response itself ends when the handler returns.
func (c *sseConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isClosed {
		c.isClosed = true
		close(c.closed)
	}
	return nil
}

// SSEHandler streams session feeds as Server-Sent Events
type SSEHandler struct {
	registry     *events.Registry
	manager      AgentManager
	logger       arbor.ILogger
	writeTimeout time.Duration
	pingInterval time.Duration
	drainGrace   time.Duration // How long a finished run's stream waits for its completion event
}

func NewSSEHandler(registry *events.Registry, manager AgentManager, logger arbor.ILogger, config *common.WebSocketConfig) *SSEHandler {
	if config == nil {
		config = &common.WebSocketConfig{}
	}
	return &SSEHandler{
		registry:     registry,
		manager:      manager,
		logger:       logger,
		writeTimeout: common.ParseDuration(config.WriteTimeout, 10*time.Second),
		pingInterval: common.ParseDuration(config.PingInterval, 30*time.Second),
		drainGrace:   2 * time.Second,
	}
}

// open writes the event-stream headers. Returns nil when streaming is unsupported.
func (h *SSEHandler) open(w http.ResponseWriter) *sseConnection {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	conn := newSSEConnection(w, h.writeTimeout)

	// Streams outlive the server's write timeout
	_ = conn.rc.SetWriteDeadline(time.Time{})

	w.WriteHeader(http.StatusOK)
	if err := conn.rc.Flush(); err != nil {
		h.logger.Warn().Err(err).Msg("Streaming not supported by response writer")
		return nil
	}
	return conn
}

// StreamHandler serves GET /api/agent/{session_id}/stream
func (h *SSEHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	sessionID := PathParam(r.URL.Path, "/api/agent/")
	if sessionID == "" {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "session id is required")
		return
	}

	conn := h.open(w)
	if conn == nil {
		return
	}

	h.registry.AddToSession(sessionID, conn)
	defer func() {
		h.registry.Remove(conn)
		conn.Close()
	}()

	h.logger.Debug().Str("session_id", sessionID).Msg("SSE client connected")
	h.hold(r, conn, nil)
	h.logger.Debug().Str("session_id", sessionID).Msg("SSE client disconnected")
}

// RunBrowserTaskHandler serves POST /api/run-browser-task: it starts an agent and
// streams its session feed until the run finishes
func (h *SSEHandler) RunBrowserTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req StartAgentRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	// Headers go out before the connection is attached; the broadcaster may write as soon as Start returns
	conn := h.open(w)
	if conn == nil {
		return
	}
	defer func() {
		h.registry.Remove(conn)
		conn.Close()
	}()

	start := req.toStartRequest()
	start.Observers = append(start.Observers, conn)

	result, err := h.manager.Start(r.Context(), start)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to start browser task")
		notice := models.NewEvent(models.EventError, "", models.ErrorNotice{
			Timestamp: time.Now().Format(time.RFC3339),
			Message:   err.Error(),
		})
		if data, encErr := models.Encode(notice); encErr == nil {
			_ = conn.Send(data)
		}
		return
	}

	h.logger.Info().
		Str("session_id", result.SessionID).
		Str("agent_id", result.AgentID).
		Msg("Streaming browser task")

	h.hold(r, conn, result.Done())
}

// hold keeps the stream open until the client leaves, the connection is pruned,
// or done closes and the completion event has been written
func (h *SSEHandler) hold(r *http.Request, conn *sseConnection, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.closed:
			return
		case <-ticker.C:
			if err := conn.heartbeat(); err != nil {
				return
			}
		case <-done:
			select {
			case <-conn.completed:
			case <-conn.closed:
			case <-r.Context().Done():
			case <-time.After(h.drainGrace):
			}
			return
		}
	}
}
