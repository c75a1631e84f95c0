package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 64
)

// EventHub fans queue events out to WebSocket subscribers. It implements
// port.EventPublisher; slow subscribers lose events rather than block the
// publisher.
type EventHub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

type wsClient struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	types map[domain.EventType]bool
}

func (c *wsClient) wants(t domain.EventType) bool {
	return len(c.types) == 0 || c.types[t]
}

// NewEventHub creates a hub accepting connections from allowedOrigins.
// "*" or an empty list allows any origin.
func NewEventHub(allowedOrigins []string, logger *zap.Logger) *EventHub {
	h := &EventHub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Publish delivers the event to every interested subscriber.
func (h *EventHub) Publish(_ context.Context, event *domain.QueueEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(event.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("event subscriber buffer full, dropping event",
				zap.String("client_id", c.id),
				zap.String("event_type", string(event.Type)),
			)
		}
	}
	return nil
}

// Clients reports the number of connected subscribers.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *EventHub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("event subscriber connected", zap.String("client_id", c.id))
}

func (h *EventHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("event subscriber disconnected", zap.String("client_id", c.id))
}

// eventsHandler upgrades GET /v1/queue/events. An optional ?types= query
// (comma separated) limits which events are sent.
func eventsHandler(hub *EventHub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		types := make(map[domain.EventType]bool)
		if raw := r.URL.Query().Get("types"); raw != "" {
			for _, t := range strings.Split(raw, ",") {
				if t = strings.TrimSpace(t); t != "" {
					types[domain.EventType(t)] = true
				}
			}
		}

		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		c := &wsClient{
			id:    uuid.NewString(),
			conn:  conn,
			send:  make(chan []byte, sendBufferSize),
			types: types,
		}
		hub.register(c)

		go hub.writePump(c)
		hub.readPump(c)
	}
}

// readPump drains client frames so control messages are processed; the feed
// is one-way.
func (h *EventHub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (h *EventHub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
