package events

import (
	"context"
	"sync/atomic"

	"github.com/segyhp/dunning-engine/internal/domain"

	"github.com/sirupsen/logrus"
)

// Sink receives domain events. Emit must not block the caller.
type Sink interface {
	Emit(ctx context.Context, event domain.Event)
}

// Outbox is a bounded channel of events. When full, events are dropped and counted.
type Outbox struct {
	ch      chan domain.Event
	dropped atomic.Int64
}

func NewOutbox(buffer int) *Outbox {
	if buffer <= 0 {
		buffer = 1
	}
	return &Outbox{ch: make(chan domain.Event, buffer)}
}

func (o *Outbox) Emit(_ context.Context, event domain.Event) {
	select {
	case o.ch <- event:
	default:
		o.dropped.Add(1)
	}
}

// Events is the receive side for consumers.
func (o *Outbox) Events() <-chan domain.Event {
	return o.ch
}

func (o *Outbox) Dropped() int64 {
	return o.dropped.Load()
}

// Drain returns whatever is buffered without waiting.
func (o *Outbox) Drain() []domain.Event {
	var out []domain.Event
	for {
		select {
		case e := <-o.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// LogSink writes every event to the logger at info level.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, event domain.Event) {
	s.logger.WithFields(logrus.Fields{
		"event":           event.Name,
		"event_id":        event.ID.String(),
		"organization_id": event.OrganizationID,
		"plan_id":         event.PlanID.String(),
		"obligation_id":   event.ObligationID.String(),
	}).Info("domain event")
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, event domain.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, domain.Event) {}
