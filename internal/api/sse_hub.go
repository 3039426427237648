package api

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"hypoguard/domain/core"
	"hypoguard/internal"
	"hypoguard/ports"
)

const defaultPingInterval = 30 * time.Second

// SSEHub fans risk events out to Server-Sent Events clients of a session.
// It implements ports.RiskNotifier.
type SSEHub struct {
	clients   map[core.SessionID]map[chan ports.RiskEvent]bool
	clientsMu sync.RWMutex
	broadcast chan ports.RiskEvent
	done      chan struct{}
	closeOnce sync.Once
	logger    *internal.Logger

	pingInterval time.Duration
}

// NewSSEHub creates a hub and starts its dispatch loop
func NewSSEHub(logger *internal.Logger) *SSEHub {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	hub := &SSEHub{
		clients:      make(map[core.SessionID]map[chan ports.RiskEvent]bool),
		broadcast:    make(chan ports.RiskEvent, 100),
		done:         make(chan struct{}),
		logger:       logger.With("sse"),
		pingInterval: defaultPingInterval,
	}

	go hub.run()
	return hub
}

// run dispatches broadcast events until Close
func (h *SSEHub) run() {
	for {
		select {
		case event := <-h.broadcast:
			h.clientsMu.RLock()
			for clientChan := range h.clients[event.SessionID] {
				select {
				case clientChan <- event:
				default:
					h.logger.Warn("Client channel full for session %s, skipping event", event.SessionID)
				}
			}
			h.clientsMu.RUnlock()

		case <-h.done:
			return
		}
	}
}

// Subscribe registers a client channel for a session. The returned function
// unregisters it and closes the channel.
func (h *SSEHub) Subscribe(sessionID core.SessionID) (<-chan ports.RiskEvent, func()) {
	ch := make(chan ports.RiskEvent, 10)

	h.clientsMu.Lock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[chan ports.RiskEvent]bool)
	}
	h.clients[sessionID][ch] = true
	h.logger.Debug("Client registered for session %s (total clients: %d)", sessionID, len(h.clients[sessionID]))
	h.clientsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.clientsMu.Lock()
			defer h.clientsMu.Unlock()
			if clients, ok := h.clients[sessionID]; ok {
				delete(clients, ch)
				if len(clients) == 0 {
					delete(h.clients, sessionID)
				}
			}
			close(ch)
		})
	}
}

// PublishRisk implements ports.RiskNotifier. It never blocks.
func (h *SSEHub) PublishRisk(event ports.RiskEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast channel full, dropping risk event for session %s", event.SessionID)
	}
}

// Close stops the dispatch loop
func (h *SSEHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// HandleSSE streams risk events for the :session path parameter
func (h *SSEHub) HandleSSE(c *gin.Context) {
	sessionID := core.SessionID(c.Param("session"))
	if sessionID == "" {
		writeError(c, core.NewValidationError("session_id", "cannot be empty"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "Cache-Control")

	events, unsubscribe := h.Subscribe(sessionID)
	defer unsubscribe()

	c.SSEvent("connected", gin.H{"session_id": sessionID})
	c.Writer.Flush()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("risk", event)
			return true

		case t := <-ticker.C:
			c.SSEvent("ping", gin.H{"status": "alive", "timestamp": t.UTC().Format(time.RFC3339)})
			return true

		case <-ctx.Done():
			return false

		case <-h.done:
			return false
		}
	})
}

// GetActiveSessions returns sessions with active SSE clients
func (h *SSEHub) GetActiveSessions() []core.SessionID {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	sessions := make([]core.SessionID, 0, len(h.clients))
	for sessionID := range h.clients {
		sessions = append(sessions, sessionID)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i] < sessions[j] })
	return sessions
}

// GetClientCount returns the number of active clients for a session
func (h *SSEHub) GetClientCount(sessionID core.SessionID) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients[sessionID])
}
