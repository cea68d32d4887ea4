package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"uniattend/internal/auth"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Conn wraps a websocket. All writes go through a single writer goroutine.
type Conn struct {
	ws        *websocket.Conn
	send      chan []byte
	principal *auth.Principal
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, p *auth.Principal) *Conn {
	c := &Conn{
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		principal: p,
		done:      make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send queues a frame. It returns false when the connection is closed or its
// buffer is full; realtime delivery is best effort.
func (c *Conn) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close shuts the socket once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
