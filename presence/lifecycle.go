package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"presence-service/domain"
)

// State is the lifecycle position of a single connection.
type State int

const (
	Pending State = iota
	Admitted
	Terminated
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Admitted:
		return "admitted"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// GroupJoiner adds a connection to a named group. Group membership is owned by
// the transport, which also drops it when the connection goes away.
type GroupJoiner interface {
	JoinGroup(ctx context.Context, handle string, group domain.GroupKey) error
}

// Connection tracks one physical connection through Pending, Admitted and
// Terminated. A handle is never reused after termination.
type Connection struct {
	Handle    string
	Principal domain.Principal

	mu     sync.Mutex
	state  State
	groups []domain.GroupKey
}

// NewConnection returns a connection in the Pending state.
func NewConnection(handle string, principal domain.Principal) *Connection {
	return &Connection{Handle: handle, Principal: principal}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Groups returns the groups the connection was joined to during admission.
func (c *Connection) Groups() []domain.GroupKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.GroupKey, len(c.groups))
	copy(out, c.groups)
	return out
}

// Controller drives connections through their lifecycle. It is the only
// writer of the registry.
type Controller struct {
	registry *Registry
	groups   GroupJoiner
	logger   *log.Logger
}

// NewController wires a controller to the registry and the transport's group
// primitive.
func NewController(registry *Registry, groups GroupJoiner, logger *log.Logger) *Controller {
	if registry == nil {
		panic("registry is required")
	}
	if groups == nil {
		panic("group joiner is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Controller{registry: registry, groups: groups, logger: logger}
}

// Registry exposes the registry for read-only diagnostics.
func (c *Controller) Registry() *Registry { return c.registry }

// Admit moves conn from Pending to Admitted, registering it under its
// identity and joining every group derived from its claims. Group join
// failures are logged and admission continues with partial memberships.
// Anonymous connections are admitted without side effects.
func (c *Controller) Admit(ctx context.Context, conn *Connection) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.state != Pending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, conn.state, Admitted)
	}
	conn.state = Admitted

	entry := c.logger.WithField("conn", conn.Handle)
	p := conn.Principal
	if p.Anonymous() {
		entry.Debug("admitted anonymous connection")
		return nil
	}
	entry = entry.WithField("user", p.UserID)

	c.registry.Add(p.UserID, conn.Handle)

	for _, g := range p.Groups() {
		if err := c.join(ctx, conn.Handle, g); err != nil {
			entry.WithError(err).WithField("group", g).Warn("group join failed; continuing with partial membership")
			continue
		}
		conn.groups = append(conn.groups, g)
	}
	entry.WithField("groups", len(conn.groups)).Debug("connection admitted")
	return nil
}

func (c *Controller) join(ctx context.Context, handle string, g domain.GroupKey) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("join panicked: %v", r)
		}
	}()
	return c.groups.JoinGroup(ctx, handle, g)
}

// Terminate moves conn to Terminated and removes it from the registry.
// Calling it more than once is a no-op.
func (c *Controller) Terminate(conn *Connection) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.state == Terminated {
		return
	}
	conn.state = Terminated
	conn.groups = nil
	if conn.Principal.Anonymous() {
		return
	}
	c.registry.Remove(conn.Principal.UserID, conn.Handle)
	c.logger.WithFields(log.Fields{"conn": conn.Handle, "user": conn.Principal.UserID}).Debug("connection terminated")
}
