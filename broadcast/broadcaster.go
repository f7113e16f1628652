package broadcast

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"presence-service/domain"
)

// GroupSender delivers an envelope to every connection currently in group.
// Implementations must claim a handle on the envelope before delivering to it.
type GroupSender interface {
	SendToGroup(ctx context.Context, group domain.GroupKey, env *Envelope) error
}

// GroupError reports a failed send to one target group.
type GroupError struct {
	Group domain.GroupKey
	Err   error
}

func (e *GroupError) Error() string { return fmt.Sprintf("send to %s: %v", e.Group, e.Err) }

func (e *GroupError) Unwrap() error { return e.Err }

// Broadcaster announces domain events to connected clients.
type Broadcaster struct {
	sender GroupSender
	logger *log.Logger
}

// New creates a broadcaster on top of the transport's group primitive.
func New(sender GroupSender, logger *log.Logger) *Broadcaster {
	if sender == nil {
		panic("group sender is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Broadcaster{sender: sender, logger: logger}
}

// Targets computes the groups an event is addressed to.
//
// BookingUpdated always reaches every front-desk connection, whatever the
// hotel hint says. DigitalKeyCreated has no baseline audience.
func Targets(ev domain.Event) []domain.GroupKey {
	groups := make([]domain.GroupKey, 0, 3)
	if ev.Kind == domain.BookingUpdated {
		groups = append(groups, domain.RoleGroup(domain.RoleFrontDesk))
	}
	if ev.HotelID != nil {
		groups = append(groups, domain.HotelGroup(*ev.HotelID))
	}
	if ev.BookingID != nil {
		groups = append(groups, domain.BookingGroup(*ev.BookingID))
	}
	return groups
}

// Publish sends ev to the union of its target groups. All group sends are
// issued concurrently; Publish waits for every one of them and returns the
// first failure without cancelling the others. A connection that belongs to
// several target groups receives a single copy.
func (b *Broadcaster) Publish(ctx context.Context, ev domain.Event) (err error) {
	metrics, ctx := newPublishMetrics(ctx, b.logger, ev)
	defer func() {
		metrics.Log(err)
	}()

	if !ev.Kind.Valid() {
		metrics.SetErrorStage("validate")
		return fmt.Errorf("%w: %q", domain.ErrUnknownEventKind, ev.Kind)
	}

	groups := Targets(ev)
	metrics.SetGroups(len(groups))
	env := NewEnvelope(ev)

	var g errgroup.Group
	for _, group := range groups {
		g.Go(func() error {
			if err := b.sender.SendToGroup(ctx, group, env); err != nil {
				return &GroupError{Group: group, Err: err}
			}
			return nil
		})
	}
	err = g.Wait()
	metrics.SetDelivered(env.Delivered())
	if err != nil {
		metrics.SetErrorStage("send")
	}
	return err
}
