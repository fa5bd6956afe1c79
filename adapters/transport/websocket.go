package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/freyr/offer/order"
	"github.com/freyr/offer/saga"
)

// TerminalEvent is the wire form of a terminal saga outcome streamed to
// websocket observers.
type TerminalEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	State         string    `json:"state"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Broadcaster streams terminal events (OrderConfirmed/OrderRejected) to
// connected websocket clients. It is both a saga handler and an HTTP
// endpoint.
type Broadcaster struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	logger   *slog.Logger
}

// NewBroadcaster creates the broadcaster. A nil logger falls back to
// slog.Default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
		logger:  logger,
	}
}

// Handle implements saga.Handler for the terminal event types.
func (b *Broadcaster) Handle(ctx context.Context, msg saga.Message) error {
	ev := TerminalEvent{
		OrderID:       msg.CorrelationID(),
		CorrelationID: msg.CorrelationID(),
		OccurredAt:    time.Now(),
	}
	switch e := msg.(type) {
	case order.OrderConfirmed:
		ev.State = string(order.StateConfirmed)
	case order.OrderRejected:
		ev.State = string(order.StateRejected)
		ev.Reason = e.Reason
	default:
		// Not a terminal event; nothing to stream.
		return nil
	}
	b.broadcast(ev)
	return nil
}

// Wire subscribes the broadcaster to the terminal event types.
func (b *Broadcaster) Wire(f *saga.Fabric) {
	f.Subscribe(order.TypeOrderConfirmed, b)
	f.Subscribe(order.TypeOrderRejected, b)
}

func (b *Broadcaster) broadcast(ev TerminalEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("marshal terminal event", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Debug("websocket client dropped", "error", err)
			_ = conn.Close()
			delete(b.clients, conn)
		}
	}
}

// Endpoint returns the gin handler upgrading a client connection.
func (b *Broadcaster) Endpoint() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			b.logger.Error("websocket upgrade failed", "error", err)
			return
		}

		b.mu.Lock()
		b.clients[conn] = struct{}{}
		b.mu.Unlock()

		// Drain client frames to detect disconnect; the feed is one-way.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					b.mu.Lock()
					delete(b.clients, conn)
					b.mu.Unlock()
					_ = conn.Close()
					return
				}
			}
		}()
	}
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		_ = conn.Close()
		delete(b.clients, conn)
	}
}
