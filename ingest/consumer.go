// Package ingest feeds committed domain events from a storage queue into the
// broadcaster.
package ingest

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"presence-service/domain"
)

const defaultPollInterval = time.Second

// Publisher delivers an event to its audiences.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Consumer drains the queue one message at a time, so events are published
// in the order they are dequeued.
type Consumer struct {
	queue        Queue
	dedupe       Deduper
	pub          Publisher
	logger       *log.Logger
	pollInterval time.Duration
}

// NewConsumer creates a consumer. dedupe may be nil, in which case
// redelivered messages are published again.
func NewConsumer(queue Queue, dedupe Deduper, pub Publisher, logger *log.Logger, pollInterval time.Duration) *Consumer {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Consumer{queue: queue, dedupe: dedupe, pub: pub, logger: logger, pollInterval: pollInterval}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) {
	for {
		handled, err := c.processNext(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.WithError(err).Error("receive event")
		}
		if handled && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pollInterval):
		}
	}
}

// processNext handles a single message. It reports false when the queue was
// empty.
func (c *Consumer) processNext(ctx context.Context) (bool, error) {
	msg, err := c.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	logger := c.logger.WithField("message_id", msg.ID)

	var ev domain.Event
	if err := sonic.UnmarshalString(msg.Text, &ev); err != nil {
		logger.WithError(err).Warn("discarding malformed event")
		c.delete(ctx, logger, msg)
		return true, nil
	}
	if !ev.Kind.Valid() {
		logger.WithField("kind", ev.Kind).Warn("discarding event of unknown kind")
		c.delete(ctx, logger, msg)
		return true, nil
	}
	if ev.ID == "" {
		ev.ID = msg.ID
	}
	logger = logger.WithFields(log.Fields{"event_id": ev.ID, "kind": ev.Kind})

	if c.dedupe != nil {
		added, err := c.dedupe.Add(ctx, ev.ID)
		if err != nil {
			// left on the queue; it reappears after the visibility timeout
			logger.WithError(err).Error("dedupe event")
			return true, nil
		}
		if !added {
			logger.Debug("skipping already delivered event")
			c.delete(ctx, logger, msg)
			return true, nil
		}
	}

	if err := c.pub.Publish(ctx, ev); err != nil {
		logger.WithError(err).Warn("publish failed; leaving event for redelivery")
		if c.dedupe != nil {
			if rerr := c.dedupe.Remove(ctx, ev.ID); rerr != nil {
				logger.WithError(rerr).Error("release dedupe key")
			}
		}
		return true, nil
	}
	c.delete(ctx, logger, msg)
	return true, nil
}

func (c *Consumer) delete(ctx context.Context, logger *log.Entry, msg *Message) {
	if err := c.queue.Delete(ctx, msg.ID, msg.PopReceipt); err != nil {
		logger.WithError(err).Error("delete message")
	}
}
