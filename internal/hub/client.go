package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	clientSendCapacity = 256
	writeTimeout       = 10 * time.Second
)

// Client is a bound network connection: a subscription mask and a bounded
// send queue. A slow client's back-pressure must never stall a session's
// serial loop, so the queue drops the oldest entry on overflow rather than
// blocking the sender (§5), unlike the teacher's silent drop-newest.
type Client struct {
	ID   string
	conn *websocket.Conn
	log  *slog.Logger

	mu     sync.Mutex
	ports  map[string]bool // ports this client is bound to
	subs   map[string]bool // event-family subscription mask; nil/empty = all

	sendMu sync.Mutex
	send   []Message
	notify chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an accepted websocket connection.
func NewClient(id string, conn *websocket.Conn, log *slog.Logger) *Client {
	return &Client{
		ID:     id,
		conn:   conn,
		log:    log,
		ports:  make(map[string]bool),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends msg to the client's send queue, dropping the oldest
// queued message (and emitting a warn) if the queue is already at
// capacity.
func (c *Client) Enqueue(msg Message) {
	c.sendMu.Lock()
	dropped := false
	if len(c.send) >= clientSendCapacity {
		c.send = c.send[1:]
		dropped = true
	}
	c.send = append(c.send, msg)
	c.sendMu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}

	if dropped && c.log != nil {
		c.log.Warn("client send queue full, dropped oldest message", "client", c.ID)
	}
}

func (c *Client) dequeueAll() []Message {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if len(c.send) == 0 {
		return nil
	}
	out := c.send
	c.send = nil
	return out
}

// Bind marks port as one this client is subscribed to.
func (c *Client) Bind(port string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ports[port] = true
}

// Unbind removes port from this client's bindings.
func (c *Client) Unbind(port string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ports, port)
}

// BoundTo reports whether this client is bound to port.
func (c *Client) BoundTo(port string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ports[port]
}

// BoundPorts returns a snapshot of every port this client is bound to.
func (c *Client) BoundPorts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.ports))
	for p := range c.ports {
		out = append(out, p)
	}
	return out
}

// WritePump drains the send queue to the websocket connection until ctx is
// done or the connection fails. Run this in its own goroutine per client.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-c.notify:
			for _, msg := range c.dequeueAll() {
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
				err = c.conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}
}

// Close stops the write pump.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
