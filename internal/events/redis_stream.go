package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segyhp/dunning-engine/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisStreamSink buffers events in an Outbox and publishes them to a Redis stream from Run,
// so Emit never waits on the network.
type RedisStreamSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	outbox *Outbox
	logger *logrus.Logger
}

func NewRedisStreamSink(client redis.UniversalClient, stream string, buffer int, logger *logrus.Logger) *RedisStreamSink {
	return &RedisStreamSink{
		client: client,
		stream: stream,
		maxLen: 100000,
		outbox: NewOutbox(buffer),
		logger: logger,
	}
}

func (s *RedisStreamSink) Emit(ctx context.Context, event domain.Event) {
	s.outbox.Emit(ctx, event)
}

func (s *RedisStreamSink) Dropped() int64 {
	return s.outbox.Dropped()
}

// Run publishes until ctx is done, then flushes what is still buffered.
func (s *RedisStreamSink) Run(ctx context.Context) {
	for {
		select {
		case event := <-s.outbox.Events():
			s.publish(ctx, event)
		case <-ctx.Done():
			flushCtx := context.WithoutCancel(ctx)
			for _, event := range s.outbox.Drain() {
				s.publish(flushCtx, event)
			}
			return
		}
	}
}

func (s *RedisStreamSink) publish(ctx context.Context, event domain.Event) {
	values, err := StreamValues(event)
	if err != nil {
		s.logger.WithError(err).WithField("event", event.Name).Error("failed to encode event")
		return
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		s.logger.WithError(err).WithField("event", event.Name).Warn("failed to publish event")
	}
}

// StreamValues is the stream entry layout: the event name plus the JSON body.
func StreamValues(event domain.Event) (map[string]interface{}, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", event.Name, err)
	}
	return map[string]interface{}{
		"name":    event.Name,
		"plan_id": event.PlanID.String(),
		"event":   string(body),
	}, nil
}
