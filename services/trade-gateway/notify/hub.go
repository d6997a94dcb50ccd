package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Event names pushed to clients.
const (
	EventTradeUpdated   = "trade-updated"
	EventListingCreated = "listing-created"
	EventListingDeleted = "listing-deleted"
)

const (
	wsWriteTimeout = 10 * time.Second
	sendBuffer     = 32
)

// Notifier delivers fire-and-forget events. An empty target broadcasts.
type Notifier interface {
	Emit(event string, payload any, target string)
}

// Noop discards every event.
type Noop struct{}

func (Noop) Emit(string, any, string) {}

type message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	party string
	send  chan []byte
}

// Hub fans events out to connected websocket clients. Emit never blocks: a
// client whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

// NewHub returns an empty hub. A nil logger uses slog.Default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*client]struct{}), logger: logger}
}

// Emit implements Notifier.
func (h *Hub) Emit(event string, payload any, target string) {
	data, err := json.Marshal(message{Event: event, Data: payload})
	if err != nil {
		h.logger.Warn("notify: marshal event", slog.String("event", event), slog.Any("error", err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if target != "" && c.party != target {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("notify: client buffer full", slog.String("event", event))
		}
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and streams events addressed to party until the
// connection or the request context closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, party string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	c := &client{party: party, send: make(chan []byte, sendBuffer)}
	h.register(c)
	defer h.unregister(c)

	ctx := conn.CloseRead(r.Context())
	if err := h.pump(ctx, conn, c); err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

func (h *Hub) pump(ctx context.Context, conn *websocket.Conn, c *client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}
