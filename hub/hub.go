// Package hub is the websocket transport. It owns the live connections and
// the group membership index, and implements group sends for the
// broadcaster.
//
// A connection joins groups only after it is attached, and Detach drops all
// of its memberships in one step, so a detached handle is never reachable
// through any group.
package hub

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"presence-service/broadcast"
	"presence-service/domain"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrHubClosed         = errors.New("hub closed")
)

// Config tunes per-connection buffering and keepalive.
type Config struct {
	// SendBuffer is the number of frames queued per connection before the
	// connection is considered too slow and dropped.
	SendBuffer int
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// PongWait is how long a connection may stay silent before it is closed.
	// Pings go out at 9/10 of it.
	PongWait time.Duration
	// MaxMessageSize limits inbound frames.
	MaxMessageSize int64
	// AllowedOrigins restricts browser upgrades. Empty allows any origin.
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		SendBuffer:     256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 512,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

func (c Config) pingPeriod() time.Duration { return c.PongWait * 9 / 10 }

func (c Config) checkOrigin(r *http.Request) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Hub maintains the set of attached connections and their groups.
type Hub struct {
	cfg      Config
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[domain.GroupKey]map[string]*Client
	closed  bool
}

var _ broadcast.GroupSender = (*Hub)(nil)

// New creates an empty hub.
func New(cfg Config, logger *log.Logger) *Hub {
	if logger == nil {
		panic("logger is required")
	}
	cfg = cfg.withDefaults()
	return &Hub{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.checkOrigin,
		},
		clients: make(map[string]*Client),
		groups:  make(map[domain.GroupKey]map[string]*Client),
	}
}

// Upgrade switches the request to the websocket protocol and attaches the
// resulting connection.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) (*Client, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	c, err := h.Attach(conn)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait))
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// Attach registers a websocket connection under a fresh handle. The caller
// must call Run on the returned client.
func (h *Hub) Attach(conn *websocket.Conn) (*Client, error) {
	c := newClient(h, uuid.NewString(), conn)
	if err := h.attach(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (h *Hub) attach(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.clients[c.handle] = c
	return nil
}

// JoinGroup adds the connection identified by handle to group.
func (h *Hub) JoinGroup(ctx context.Context, handle string, group domain.GroupKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[handle]
	if !ok {
		return ErrUnknownConnection
	}
	members := h.groups[group]
	if members == nil {
		members = make(map[string]*Client)
		h.groups[group] = members
	}
	members[handle] = c
	c.groups[group] = struct{}{}
	return nil
}

// Detach removes the connection and all of its group memberships and closes
// its send queue. Detaching an unknown handle is a no-op.
func (h *Hub) Detach(handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[handle]
	if !ok {
		return
	}
	delete(h.clients, handle)
	for g := range c.groups {
		if members := h.groups[g]; members != nil {
			delete(members, handle)
			if len(members) == 0 {
				delete(h.groups, g)
			}
		}
	}
	c.groups = nil
	close(c.send)
}

// SendToGroup queues env on every connection currently in group that has
// not already claimed it. Queueing never blocks: a connection whose buffer is
// full is dropped and is expected to reconnect. Slow or dropped connections
// are not reported as errors.
func (h *Hub) SendToGroup(ctx context.Context, group domain.GroupKey, env *broadcast.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := env.Bytes()
	if err != nil {
		return err
	}

	var slow []*Client
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	for handle, c := range h.groups[group] {
		if !env.Claim(handle) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.WithFields(log.Fields{"conn": c.handle, "group": group}).Warn("send buffer full; dropping connection")
		c.kick()
	}
	return nil
}

// Members returns the sorted handles currently in group.
func (h *Hub) Members(group domain.GroupKey) []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.groups[group]))
	for handle := range h.groups[group] {
		out = append(out, handle)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of attached connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops accepting connections and closes every attached one. Their
// pumps detach them as they exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.kick()
	}
}
