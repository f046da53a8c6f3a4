package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/common"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/services/jobs"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every message pushed to clients.
type WSMessage struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// WebSocketHandler streams job lifecycle events to connected clients.
// Progress events are throttled so a fast scrape does not flood slow
// clients; terminal events always go out.
type WebSocketHandler struct {
	registry          *jobs.Registry
	logger            arbor.ILogger
	clients           map[*websocket.Conn]bool
	clientMutex       map[*websocket.Conn]*sync.Mutex
	mu                sync.RWMutex
	progressThrottler *rate.Limiter
}

// NewWebSocketHandler creates a websocket handler wired to the event service
func NewWebSocketHandler(registry *jobs.Registry, eventService interfaces.EventService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		registry:          registry,
		logger:            logger,
		clients:           make(map[*websocket.Conn]bool),
		clientMutex:       make(map[*websocket.Conn]*sync.Mutex),
		progressThrottler: rate.NewLimiter(rate.Every(config.ThrottleIntervalDuration()), 1),
	}

	if eventService != nil {
		h.subscribeToJobEvents(eventService)
	}

	return h
}

// subscribeToJobEvents registers broadcast handlers for every job event type.
func (h *WebSocketHandler) subscribeToJobEvents(eventService interfaces.EventService) {
	types := []interfaces.EventType{
		interfaces.EventJobStarted,
		interfaces.EventJobProgress,
		interfaces.EventJobCompleted,
		interfaces.EventJobFailed,
		interfaces.EventJobCancelled,
	}
	for _, t := range types {
		eventType := t
		if err := eventService.Subscribe(eventType, func(ctx context.Context, event interfaces.Event) error {
			h.broadcast(event)
			return nil
		}); err != nil {
			h.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe websocket handler")
		}
	}
}

// broadcast fans an event out to every connected client. Progress events
// pass through the throttler; everything else is sent unconditionally.
func (h *WebSocketHandler) broadcast(event interfaces.Event) {
	if event.Type == interfaces.EventJobProgress && !h.progressThrottler.Allow() {
		return
	}

	msg := WSMessage{
		Type:    string(event.Type),
		Payload: event.Payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send message to websocket client, removing")
			h.removeClient(conn)
		}
	}
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// client goes away. With a job_id query param, the current state of that
// job's stream is replayed first: a client reconnecting after the job
// finished still sees the terminal event.
// GET /ws[?job_id={id}]
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		h.replayTerminal(conn, jobID)
	}

	// Read loop: we never expect client messages, but reading is how we
	// notice the connection closing.
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// replayTerminal sends the terminal event of a finished job to a late
// subscriber.
func (h *WebSocketHandler) replayTerminal(conn *websocket.Conn, jobID string) {
	progress := h.registry.Progress(jobID)
	if progress == nil {
		return
	}
	terminal := progress.Terminal()
	if terminal == nil {
		return
	}

	msg := WSMessage{
		Type:    string(terminal.Type),
		Payload: terminal.Payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()
	if mutex == nil {
		return
	}

	mutex.Lock()
	defer mutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to replay terminal event")
	}
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		conn.Close()
		h.logger.Debug().Int("clients", len(h.clients)).Msg("WebSocket client disconnected")
	}
}

// Close disconnects all clients.
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.clientMutex = make(map[*websocket.Conn]*sync.Mutex)
}
