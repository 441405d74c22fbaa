package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-backend/internal/hub"
	"github.com/DoyleJ11/battle-backend/internal/room"
)

var errClosed = errors.New("connection closed")
var errSlow = errors.New("send buffer full")

// conn adapts a websocket to room.Conn. Sends are queued for the write pump
// and never block the hub.
type conn struct {
	ws    *websocket.Conn
	out   chan []byte
	pings chan struct{}
	done  chan struct{}
	once  sync.Once

	mu     sync.Mutex
	reason string
}

func newConn(ws *websocket.Conn, buffer int) *conn {
	return &conn{
		ws:    ws,
		out:   make(chan []byte, buffer),
		pings: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (c *conn) Send(data []byte) error {
	select {
	case <-c.done:
		return errClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return errSlow
	}
}

func (c *conn) Ping() {
	select {
	case c.pings <- struct{}{}:
	default:
	}
}

func (c *conn) Terminate(reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *conn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// writePump owns all writes to the socket until the connection is terminated.
func (c *conn) writePump(ctx context.Context, h *hub.Hub, client *room.Client, opts Options, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-c.done:
			_ = c.ws.Close(websocket.StatusGoingAway, c.closeReason())
			return

		case data := <-c.out:
			writeCtx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := c.ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug("write failed", zap.Error(err))
				c.Terminate("write failed")
			}

		case <-c.pings:
			// Ping waits for the pong, so it must not hold up queued writes.
			go func() {
				pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
				defer cancel()
				if err := c.ws.Ping(pingCtx); err != nil {
					log.Debug("ping failed", zap.Error(err))
					return
				}
				_ = h.Post(hub.Pong{Client: client})
			}()
		}
	}
}

// rateLimiter is a fixed-window message counter. It is only used by the
// read pump goroutine.
type rateLimiter struct {
	max       int
	window    time.Duration
	count     int
	lastReset time.Time
}

func (l *rateLimiter) allow(now time.Time) bool {
	if l.max <= 0 {
		return true
	}
	if now.Sub(l.lastReset) > l.window {
		l.count = 0
		l.lastReset = now
	}
	l.count++
	return l.count <= l.max
}
