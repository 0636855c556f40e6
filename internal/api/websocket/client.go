package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openlot/realtime-auction-backend/internal/domain/user"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one authenticated connection. It implements
// broadcast.Subscriber: rooms enqueue payloads onto send, the write pump
// drains them, and a full queue marks the client for eviction.
type Client struct {
	id       uuid.UUID
	identity *user.Identity
	conn     *websocket.Conn
	gateway  *Gateway

	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func newClient(gateway *Gateway, conn *websocket.Conn, identity *user.Identity, queueSize int) *Client {
	return &Client{
		id:       uuid.New(),
		identity: identity,
		conn:     conn,
		gateway:  gateway,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
		limiter:  rate.NewLimiter(rate.Limit(10), 20),
	}
}

// ConnectionID identifies this connection; a user may hold several.
func (c *Client) ConnectionID() uuid.UUID { return c.id }

// UserID returns the authenticated user.
func (c *Client) UserID() uuid.UUID { return c.identity.UserID }

// Username returns the authenticated username.
func (c *Client) Username() string { return c.identity.Username }

// Deliver enqueues a payload without blocking. False means the queue is full
// or the connection is closing; the caller evicts the subscriber.
func (c *Client) Deliver(payload []byte) bool {
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

// close signals both pumps to stop. The send channel is never closed, so a
// concurrent Deliver can never panic; it just starts returning false.
func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// readPump consumes inbound commands until the connection dies, then tears
// the client down. One per connection.
func (c *Client) readPump() {
	defer func() {
		c.gateway.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gateway.logger.Debug("websocket read error",
					zap.String("connection_id", c.id.String()),
					zap.Error(err))
			}
			return
		}
		c.gateway.handleCommand(c, data)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
// One per connection; the only writer to the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
