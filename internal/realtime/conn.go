// Package realtime runs client connections over websockets: one reader that
// handles requests strictly in arrival order and one writer that drains a
// bounded outbox.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nika/server/internal/apperr"
	"github.com/nika/server/internal/gateway"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	outboxSize     = 64
)

// Handler processes requests of a connection and releases it on close
type Handler interface {
	Handle(ctx context.Context, c gateway.Client, req gateway.Request) gateway.Reply
	Disconnect(c gateway.Client)
}

// Conn is a websocket client connection
type Conn struct {
	id     string
	ws     *websocket.Conn
	outbox chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// NewConn wraps an upgraded websocket
func NewConn(ws *websocket.Conn, logger *zap.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:     id,
		ws:     ws,
		outbox: make(chan []byte, outboxSize),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("conn_id", id)),
	}
}

// ID returns the connection id
func (c *Conn) ID() string { return c.id }

// Deliver queues payload without blocking. A connection whose outbox is full
// is too slow to keep up and gets closed.
func (c *Conn) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbox <- payload:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("ws_slow_consumer")
		c.Close()
		return false
	}
}

// Close shuts the connection down; safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Done is closed once the connection is shut down
func (c *Conn) Done() <-chan struct{} { return c.done }

// Serve sends first, then reads requests until the peer goes away or ctx is
// cancelled. Each request is handled to completion before the next is read.
func (c *Conn) Serve(ctx context.Context, h Handler, first gateway.Reply) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		h.Disconnect(c)
		c.Close()
	}()

	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	c.send(first)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("ws_read_failed", zap.Error(err))
			}
			return
		}

		var req gateway.Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.send(gateway.ErrorReply("", apperr.ValidationError("malformed frame")))
			continue
		}
		c.send(h.Handle(ctx, c, req))
	}
}

func (c *Conn) send(reply gateway.Reply) {
	payload, err := json.Marshal(reply)
	if err != nil {
		c.logger.Error("ws_encode_failed", zap.String("event", reply.Event), zap.Error(err))
		return
	}
	c.Deliver(payload)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("ws_write_failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
