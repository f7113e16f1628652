package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"presence-service/domain"
)

// Client is one attached websocket connection.
type Client struct {
	hub    *Hub
	handle string
	conn   *websocket.Conn
	send   chan []byte

	// guarded by hub.mu
	groups map[domain.GroupKey]struct{}

	kickOnce sync.Once
}

func newClient(h *Hub, handle string, conn *websocket.Conn) *Client {
	return &Client{
		hub:    h,
		handle: handle,
		conn:   conn,
		send:   make(chan []byte, h.cfg.SendBuffer),
		groups: make(map[domain.GroupKey]struct{}),
	}
}

// Handle returns the transport-assigned connection handle.
func (c *Client) Handle() string { return c.handle }

// Run pumps frames to the peer until the connection closes, then detaches
// the client from the hub. It blocks for the lifetime of the connection.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
	c.hub.Detach(c.handle)
}

// kick forces the connection closed. The read pump then exits and detaches
// the client. Connections without a socket are detached directly.
func (c *Client) kick() {
	c.kickOnce.Do(func() {
		if c.conn == nil {
			c.hub.Detach(c.handle)
			return
		}
		_ = c.conn.Close()
	})
}

// readPump discards inbound frames; clients have no server-side methods. It
// only keeps the read deadline moving so dead peers are noticed.
func (c *Client) readPump() {
	defer c.conn.Close()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).WithField("conn", c.handle).Debug("websocket closed unexpectedly")
			}
			return
		}
	}
}

// writePump writes queued frames one message at a time, in queue order.
func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
