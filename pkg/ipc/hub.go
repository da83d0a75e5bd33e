package ipc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/odvcencio/sagecell/pkg/telemetry"
)

// Event types sent to preview clients.
const (
	EventCell     = "cell"
	EventSession  = "session"
	EventRendered = "document.rendered"
	EventPong     = "server.pong"
)

const (
	clientQueueSize   = 64
	clientWriteTimeout = 15 * time.Second
)

// Event is one JSON message on /ws.
type Event struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans events out to preview clients. A client that falls a full queue
// behind is disconnected.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Broadcast queues event for every interested client.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	var lagging []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.wants(event) && !c.enqueue(event) {
			lagging = append(lagging, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range lagging {
		h.removeClient(c)
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register adds a client. A non-empty requestID limits its cell events to
// that request; document and session events always pass.
func (h *Hub) register(conn wsConn, requestID string) *client {
	c := &client{conn: conn, requestID: requestID, send: make(chan Event, clientQueueSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	telemetry.PreviewClients.Set(float64(n))
	return c
}

// removeClient is idempotent.
func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.shutdown()
	}
	telemetry.PreviewClients.Set(float64(n))
}

type wsConn interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
	Close(status websocket.StatusCode, reason string) error
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

type client struct {
	conn      wsConn
	requestID string

	mu     sync.Mutex
	send   chan Event
	closed bool
}

func (c *client) wants(event Event) bool {
	return c.requestID == "" || event.Type != EventCell || event.RequestID == c.requestID
}

// enqueue reports false only when the queue is full. Events for a closed
// client are discarded.
func (c *client) enqueue(event Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writeLoop drains the queue to the socket until shutdown or ctx ends.
func (c *client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-c.send:
			if !ok {
				return nil
			}
			if err := c.write(ctx, event); err != nil {
				return err
			}
		}
	}
}

func (c *client) write(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, clientWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// readLoop answers {"type":"ping"} and ignores anything else until the
// peer goes away.
func (c *client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
			c.enqueue(Event{Type: EventPong})
		}
	}
}

func (c *client) close(status websocket.StatusCode, reason string) {
	_ = c.conn.Close(status, reason)
}
