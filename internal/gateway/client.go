package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the max time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// sendBuffer is the per-connection outbound queue depth. A full queue
	// marks the consumer as slow and the send is dropped.
	sendBuffer = 64
)

// client wraps one websocket connection. It satisfies registry.Handle: Send
// never blocks and Close is idempotent. The write pump owns the connection's
// write side; the read pump owns the read side.
type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id, userID string, conn *websocket.Conn) *client {
	return &client{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// Send enqueues a payload for delivery. Returns false when the connection is
// closed or the outbound buffer is full.
func (c *client) Send(payload []byte) bool {
	if payload == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close terminates the connection. Safe to call from any goroutine, multiple
// times.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// closeWithCode sends a close frame with the given code before tearing down.
func (c *client) closeWithCode(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	c.Close()
}

// writePump drains the send queue onto the wire and emits protocol pings.
// One per connection; exits when the connection closes.
func (c *client) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
