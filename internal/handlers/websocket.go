// -----------------------------------------------------------------------
// Last Modified: Monday, 14th September 2026 11:05:30 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/services/events"
)

// wsConnection adapts a WebSocket to interfaces.Connection. Writes are
// serialized; the broadcaster and the ping loop share the socket.
type wsConnection struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConnection(conn *websocket.Conn, writeTimeout time.Duration) *wsConnection {
	return &wsConnection{
		conn:         conn,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// Send writes one text frame. A slow reader fails the write once the deadline passes.
func (c *wsConnection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConnection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a close frame when possible and releases the socket
func (c *wsConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()

		err = c.conn.Close()
	})
	return err
}

// WebSocketHandler upgrades observer requests and subscribes them to the global
// feed or to one session's feed
type WebSocketHandler struct {
	registry     *events.Registry
	logger       arbor.ILogger
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
}

func NewWebSocketHandler(registry *events.Registry, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	if config == nil {
		config = &common.WebSocketConfig{}
	}

	allowed := make(map[string]bool, len(config.AllowedOrigins))
	for _, origin := range config.AllowedOrigins {
		allowed[strings.TrimRight(origin, "/")] = true
	}

	h := &WebSocketHandler{
		registry:     registry,
		logger:       logger,
		writeTimeout: common.ParseDuration(config.WriteTimeout, 10*time.Second),
		pingInterval: common.ParseDuration(config.PingInterval, 30*time.Second),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}

	return h
}

// HandleGlobal serves GET /ws/logs
func (h *WebSocketHandler) HandleGlobal(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "", func(conn interfaces.Connection) {
		h.registry.AddGlobal(conn)
	})
}

// HandleSession serves GET /ws/session/{session_id}/logs
func (h *WebSocketHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := PathParam(r.URL.Path, "/ws/session/")
	if sessionID == "" || !strings.HasSuffix(r.URL.Path, "/logs") {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "session id is required")
		return
	}

	h.serve(w, r, sessionID, func(conn interfaces.Connection) {
		h.registry.AddToSession(sessionID, conn)
	})
}

func (h *WebSocketHandler) serve(w http.ResponseWriter, r *http.Request, sessionID string, subscribe func(interfaces.Connection)) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	conn := newWSConnection(ws, h.writeTimeout)
	subscribe(conn)

	global, sessions := h.registry.Counts()
	h.logger.Debug().
		Str("session_id", sessionID).
		Int("global", global).
		Int("sessions", sessions).
		Msg("WebSocket client connected")

	defer func() {
		h.registry.Remove(conn)
		conn.Close()
		h.logger.Debug().Str("session_id", sessionID).Msg("WebSocket client disconnected")
	}()

	go h.keepAlive(conn)

	readWait := 2 * h.pingInterval
	ws.SetReadLimit(64 * 1024)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	// Observers only listen; reading drives control frames and detects disconnects
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

func (h *WebSocketHandler) keepAlive(conn *wsConnection) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-conn.closed:
			return
		}
	}
}
