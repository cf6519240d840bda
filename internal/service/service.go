package service

import (
	"context"
	"time"

	"github.com/segyhp/dunning-engine/internal/clock"
	"github.com/segyhp/dunning-engine/internal/domain"
	"github.com/segyhp/dunning-engine/internal/events"
	"github.com/segyhp/dunning-engine/internal/lock"
	"github.com/segyhp/dunning-engine/internal/metrics"
	"github.com/segyhp/dunning-engine/internal/repository"
	"github.com/segyhp/dunning-engine/internal/scheduler"
	customError "github.com/segyhp/dunning-engine/pkg/errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RetryTimers is the part of the retry scheduler the services drive.
type RetryTimers interface {
	Arm(obligationID uuid.UUID, fireAt time.Time, cb scheduler.Callback)
	Cancel(obligationID uuid.UUID) bool
}

// Deps are the collaborators shared by every service. Observer, Sink and Retries may be nil.
type Deps struct {
	Store    repository.ObligationStore
	Locker   lock.Locker
	Sink     events.Sink
	Clock    clock.Clock
	Retries  RetryTimers
	Observer metrics.Observer
	Logger   *logrus.Logger

	// ConflictRetries bounds how often a read-modify-write is repeated after a Conflict.
	ConflictRetries int
}

func (d Deps) withDefaults() Deps {
	if d.Sink == nil {
		d.Sink = events.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Retries == nil {
		d.Retries = noTimers{}
	}
	if d.Observer == nil {
		d.Observer = metrics.Nop()
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.ConflictRetries < 0 {
		d.ConflictRetries = 0
	}
	return d
}

// withPlanLock runs fn while holding the plan's lock, repeating it on Conflict up to
// ConflictRetries times. fn must re-read whatever it mutates.
func (d Deps) withPlanLock(ctx context.Context, planID uuid.UUID, operation string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := d.locked(ctx, planID, fn)
		if err == nil || !customError.IsRetryable(err) || attempt >= d.ConflictRetries {
			return err
		}
		d.Observer.RecordConflict(operation)
		d.Logger.WithFields(logrus.Fields{
			"plan_id":   planID.String(),
			"operation": operation,
			"attempt":   attempt + 1,
		}).Debug("conflict, retrying")

		if ctx.Err() != nil {
			return err
		}
	}
}

func (d Deps) locked(ctx context.Context, planID uuid.UUID, fn func() error) error {
	release, err := d.Locker.Acquire(ctx, lock.PlanKey(planID.String()))
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// pending collects events during a mutation; they are emitted only once the write landed.
type pending []domain.Event

func (p *pending) add(e domain.Event) {
	*p = append(*p, e)
}

func (p pending) emit(ctx context.Context, sink events.Sink) {
	for _, e := range p {
		sink.Emit(ctx, e)
	}
}

type noTimers struct{}

func (noTimers) Arm(uuid.UUID, time.Time, scheduler.Callback) {}

func (noTimers) Cancel(uuid.UUID) bool { return false }

// isOpen reports whether ob still keeps its plan from reaching a terminal status. PENDING
// counts as open: a retry is with the transaction processor and may still settle.
func isOpen(ob *domain.Obligation) bool {
	return ob.IsActive()
}

// replace returns obligations with the entry matching updated swapped for it.
func replace(obligations []*domain.Obligation, updated *domain.Obligation) []*domain.Obligation {
	out := make([]*domain.Obligation, len(obligations))
	for i, ob := range obligations {
		if ob.ID == updated.ID {
			out[i] = updated
			continue
		}
		out[i] = ob
	}
	return out
}
