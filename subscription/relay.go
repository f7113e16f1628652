// Package subscription relays published events between service instances
// over a redis pub/sub channel, so every instance delivers to the
// connections it holds.
package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"presence-service/domain"
)

const DefaultChannel = "hotel-events"

const reconnectDelay = time.Second

// Publisher delivers an event to the connections held by this instance.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Relay publishes events to the shared channel instead of delivering them
// directly. Delivery happens in SubscribeEvents on every instance.
type Relay struct {
	rc      *redis.Client
	channel string
}

func NewRelay(rc *redis.Client, channel string) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{rc: rc, channel: channel}
}

// Publish validates ev and hands it to the channel. Only failures to reach
// redis are reported; per-instance delivery errors are logged by the
// subscribers.
func (r *Relay) Publish(ctx context.Context, ev domain.Event) error {
	if !ev.Kind.Valid() {
		return domain.ErrUnknownEventKind
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.rc.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("relay event %s: %w", ev.ID, err)
	}
	return nil
}

// SubscribeEvents listens on channel and passes each relayed event to local,
// one at a time in arrival order. It resubscribes when the connection drops
// and returns when ctx is done.
func SubscribeEvents(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, local Publisher) {
	if channel == "" {
		channel = DefaultChannel
	}
	for {
		receive(ctx, logger, rc, channel, local)
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func receive(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, local Publisher) {
	sub := rc.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			logger.WithError(err).WithField("channel", channel).Error("subscribe")
		}
		return
	}
	logger.WithField("channel", channel).Debug("subscribed to relayed events")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.Event
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
				logger.WithError(err).Error("unable to parse relayed event")
				continue
			}
			if err := local.Publish(ctx, ev); err != nil {
				logger.WithError(err).WithFields(log.Fields{"event_id": ev.ID, "kind": ev.Kind}).Warn("deliver relayed event")
			}
		}
	}
}
