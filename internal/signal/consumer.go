package signal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/segyhp/dunning-engine/internal/clock"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Consumer reads transaction processor outcomes from a Redis stream consumer group.
// Messages are acknowledged once handled or once they fail permanently; transient failures
// stay pending for redelivery.
type Consumer struct {
	client  redis.UniversalClient
	stream  string
	group   string
	name    string
	handler PaymentHandler
	clock   clock.Clock
	logger  *logrus.Logger
	batch   int64
	block   time.Duration
	minIdle time.Duration
}

func NewConsumer(client redis.UniversalClient, stream, group, name string, handler PaymentHandler, clk clock.Clock, logger *logrus.Logger) *Consumer {
	return &Consumer{
		client:  client,
		stream:  stream,
		group:   group,
		name:    name,
		handler: handler,
		clock:   clk,
		logger:  logger,
		batch:   32,
		block:   5 * time.Second,
		minIdle: time.Minute,
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist yet.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"stream":   c.stream,
		"group":    c.group,
		"consumer": c.name,
	}).Info("signal consumer started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		c.reclaim(ctx)

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Count:    c.batch,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.WithError(err).Warn("signal read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.Handle(ctx, msg)
			}
		}
	}
}

// reclaim takes over messages another consumer left pending for longer than minIdle.
func (c *Consumer) reclaim(ctx context.Context) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  c.minIdle,
		Start:    "0",
		Count:    c.batch,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			c.logger.WithError(err).Debug("signal reclaim failed")
		}
		return
	}
	for _, msg := range msgs {
		c.Handle(ctx, msg)
	}
}

// Handle processes one stream message and acknowledges it unless the failure is transient.
func (c *Consumer) Handle(ctx context.Context, msg redis.XMessage) {
	log := c.logger.WithField("message_id", msg.ID)

	err := c.process(ctx, msg)
	switch {
	case err == nil:
	case Permanent(err):
		log.WithError(err).Warn("signal rejected")
	default:
		log.WithError(err).Warn("signal failed, left for redelivery")
		return
	}

	if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
		log.WithError(err).Error("signal ack failed")
	}
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) error {
	s, err := Parse(msg.Values)
	if err != nil {
		return err
	}
	return Dispatch(ctx, c.handler, s, c.clock.Now())
}
