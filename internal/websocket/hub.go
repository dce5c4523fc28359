package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"casevault/internal/infrastructure"
)

const (
	// broadcastBuffer is the depth of the hub's inbound queue.
	broadcastBuffer = 64

	// sendBuffer is the depth of each client's outbound queue.
	sendBuffer = 32
)

// Hub maintains the set of connected clients and fans events out to them.
// Publish never blocks: a full queue drops the event and a slow client is
// disconnected.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMetrics sets the hub instruments.
func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// NewHub creates a Hub. Call Run to start delivering.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = noopMetrics()
	}
	return h
}

// Run delivers events until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("hub stopped")
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.Connections.Add(ctx, 1)

			h.logger.DebugContext(ctx, "client registered",
				slog.String("client_id", c.id),
				slog.String("remote_addr", c.remoteAddr),
				slog.Int("total_clients", count))

			if welcome, err := h.encode(Message{
				Type: TypeConnection,
				Data: map[string]string{"status": "connected", "client_id": c.id},
			}); err == nil {
				select {
				case c.send <- welcome:
				default:
				}
			}

		case c := <-h.unregister:
			h.remove(ctx, c, "closed")

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()

			for _, c := range clients {
				select {
				case c.send <- msg:
					h.metrics.MessagesSent.Add(ctx, 1)
				default:
					h.remove(ctx, c, "slow")
				}
			}
		}
	}
}

func (h *Hub) remove(ctx context.Context, c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.metrics.Connections.Add(ctx, -1)
	h.logger.DebugContext(ctx, "client unregistered",
		slog.String("client_id", c.id),
		slog.String("reason", reason),
		slog.Duration("connection_duration", time.Since(c.connectedAt)))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// Publish queues msg for every connected client. It never blocks.
func (h *Hub) Publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	data, err := h.encode(msg)
	if err != nil {
		h.logger.Error("failed to encode event",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.metrics.DroppedMessages.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("type", msg.Type)))
		h.logger.Warn("event queue full, dropping event", slog.String("type", msg.Type))
	}
}

// PublishContext is Publish with the trace id taken from ctx.
func (h *Hub) PublishContext(ctx context.Context, msgType string, data interface{}) {
	h.Publish(Message{
		Type:    msgType,
		Data:    data,
		TraceID: infrastructure.GetTraceID(ctx),
	})
}

func (h *Hub) encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	return json.Marshal(msg)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds c to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
