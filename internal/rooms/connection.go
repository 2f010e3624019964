// ABOUTME: Connection is one authenticated socket session registered with the Manager
// ABOUTME: Outbound frames go through a bounded queue; a full queue drops the frame

package rooms

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/switchboard/internal/auth"
)

// DefaultSendBuffer is the outbound queue length per connection
const DefaultSendBuffer = 64

// Frame is the wire envelope for every socket message in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals payload into a frame.
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// Connection is a live session bound to exactly one identity.
type Connection struct {
	ID       string
	Identity auth.Identity

	mu     sync.Mutex
	send   chan []byte
	closed bool

	// rooms is guarded by the owning Manager's lock
	rooms map[string]struct{}
}

// NewConnection creates a connection with a fresh ID. A non-positive buffer
// uses DefaultSendBuffer.
func NewConnection(identity auth.Identity, buffer int) *Connection {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Connection{
		ID:       uuid.New().String(),
		Identity: identity,
		send:     make(chan []byte, buffer),
		rooms:    make(map[string]struct{}),
	}
}

// Outbound returns the queue drained by the socket writer. It is closed when
// the connection is unregistered.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// enqueue attempts a non-blocking send. Returns false if the queue is full
// or the connection is closed.
func (c *Connection) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close marks the connection closed and closes its queue. Safe to call twice.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
