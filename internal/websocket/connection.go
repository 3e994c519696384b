package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"soundscape/pkg/types"
)

// Peer is one connected client as seen by the hub: an identity plus an
// ordered, best-effort event sink.
type Peer interface {
	UserID() string
	Username() string
	WriteEvent(event string, payload interface{}) error
	Close() error
}

// Connection wraps a gorilla WebSocket connection. All writes go through a
// single writer goroutine so per-client delivery order matches the order
// events were accepted.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	userID       string
	username     string
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection creates a connection wrapper and starts its writer.
// Identity is fixed at handshake time and never changes afterwards.
func NewConnection(conn *websocket.Conn, userID, username string, sendBuffer int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, sendBuffer),
		userID:       userID,
		username:     username,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) UserID() string   { return c.userID }
func (c *Connection) Username() string { return c.username }

func (c *Connection) writeLoop() {
	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteEvent queues an enveloped event for delivery. A closed connection or
// a full buffer drops the event with an error; callers treat delivery as
// fire-and-forget and only log the failure.
func (c *Connection) WriteEvent(event string, payload interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return ErrInvalidJSON
	}
	frame, err := json.Marshal(types.Envelope{Event: event, Data: data})
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts the connection down exactly once. The writer goroutine exits
// via context cancellation.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
