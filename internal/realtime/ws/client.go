package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one websocket transport. The hub writes through Enqueue; a single
// writer goroutine owns the socket for writes.
type Client struct {
	conn          *websocket.Conn
	send          chan []byte
	closing       chan struct{}
	closeOnce     sync.Once
	closeCode     int
	closeReason   string
	authenticated atomic.Bool
}

func newClient(conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		conn:      conn,
		send:      make(chan []byte, buffer),
		closing:   make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// Enqueue queues a frame for the writer. It never blocks: a full buffer or a
// closing client drops the frame.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.closing:
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

// shutdown asks the writer to flush queued frames, send a close frame and
// release the socket. Only the first call decides the close code.
func (c *Client) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closing)
	})
}

func (c *Client) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame, writeWait); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil, writeWait); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-c.closing:
			for {
				select {
				case frame := <-c.send:
					if err := c.write(websocket.TextMessage, frame, writeWait); err != nil {
						return
					}
				default:
					msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
					_ = c.write(websocket.CloseMessage, msg, writeWait)
					return
				}
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte, writeWait time.Duration) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
