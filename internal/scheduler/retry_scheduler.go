package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/segyhp/dunning-engine/internal/clock"
	"github.com/segyhp/dunning-engine/internal/domain"
	"github.com/segyhp/dunning-engine/internal/events"
	"github.com/segyhp/dunning-engine/internal/lock"
	"github.com/segyhp/dunning-engine/internal/metrics"
	"github.com/segyhp/dunning-engine/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Callback runs after a retry timer fired and the store confirmed the obligation is still
// retryable. It owns any state change.
type Callback func(ctx context.Context, obligationID uuid.UUID)

// RetryScheduler keeps at most one armed timer per obligation. Timers are a wake-up hint:
// on fire the store's status decides whether anything happens.
type RetryScheduler struct {
	clock    clock.Clock
	store    repository.ObligationStore
	locker   lock.Locker
	sink     events.Sink
	observer metrics.Observer
	logger   *logrus.Logger

	fireTimeout time.Duration

	mu       sync.Mutex
	timers   map[uuid.UUID]*armed
	gen      uint64
	fallback Callback
}

type armed struct {
	timer  clock.Timer
	gen    uint64
	fireAt time.Time
}

func NewRetryScheduler(
	clk clock.Clock,
	store repository.ObligationStore,
	locker lock.Locker,
	sink events.Sink,
	observer metrics.Observer,
	logger *logrus.Logger,
) *RetryScheduler {
	if observer == nil {
		observer = metrics.Nop()
	}
	return &RetryScheduler{
		clock:       clk,
		store:       store,
		locker:      locker,
		sink:        sink,
		observer:    observer,
		logger:      logger,
		fireTimeout: 30 * time.Second,
		timers:      make(map[uuid.UUID]*armed),
	}
}

// SetDefaultCallback sets the callback used when Arm is given nil.
func (s *RetryScheduler) SetDefaultCallback(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = cb
}

// Arm schedules a retry trigger for obligationID at fireAt, replacing any timer already armed
// for it.
func (s *RetryScheduler) Arm(obligationID uuid.UUID, fireAt time.Time, cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[obligationID]; ok {
		prev.timer.Stop()
	}
	if cb == nil {
		cb = s.fallback
	}

	s.gen++
	gen := s.gen
	delay := fireAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	timer := s.clock.AfterFunc(delay, func() { s.fire(obligationID, gen, cb) })
	s.timers[obligationID] = &armed{timer: timer, gen: gen, fireAt: fireAt}
	s.observer.RecordRetryArmed()

	s.logger.WithFields(logrus.Fields{
		"obligation_id": obligationID.String(),
		"fire_at":       fireAt,
	}).Debug("retry armed")
}

// Cancel disarms the obligation's timer. It reports whether one was armed.
func (s *RetryScheduler) Cancel(obligationID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.timers[obligationID]
	if !ok {
		return false
	}
	prev.timer.Stop()
	delete(s.timers, obligationID)
	return true
}

// FireAt returns when the obligation's timer is due, if one is armed.
func (s *RetryScheduler) FireAt(obligationID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.timers[obligationID]
	if !ok {
		return time.Time{}, false
	}
	return a.fireAt, true
}

func (s *RetryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms everything.
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *RetryScheduler) fire(obligationID uuid.UUID, gen uint64, cb Callback) {
	s.mu.Lock()
	current, ok := s.timers[obligationID]
	if !ok || current.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, obligationID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.fireTimeout)
	defer cancel()

	log := s.logger.WithField("obligation_id", obligationID.String())

	ob, plan, retryable, err := s.verify(ctx, obligationID)
	if err != nil {
		log.WithError(err).Warn("retry fire could not verify obligation")
		s.observer.RecordRetryFired(false)
		return
	}
	s.observer.RecordRetryFired(retryable)
	if !retryable {
		log.WithField("status", ob.Status).Debug("retry fire skipped, obligation no longer retryable")
		return
	}

	s.sink.Emit(ctx, domain.NewEvent(domain.EventRetryTrigger, plan, ob, s.clock.Now(), map[string]interface{}{
		"retryAttempts": ob.RetryAttempts,
	}))

	if cb != nil {
		cb(ctx, obligationID)
	}
}

// verify re-reads the obligation and its plan under the plan lock so the check never
// interleaves with a sweep or payment mutating the same plan.
func (s *RetryScheduler) verify(ctx context.Context, obligationID uuid.UUID) (*domain.Obligation, *domain.Plan, bool, error) {
	ob, err := s.store.GetObligation(ctx, obligationID)
	if err != nil {
		return nil, nil, false, err
	}

	release, err := s.locker.Acquire(ctx, lock.PlanKey(ob.PlanID.String()))
	if err != nil {
		return nil, nil, false, err
	}
	defer release()

	ob, err = s.store.GetObligation(ctx, obligationID)
	if err != nil {
		return nil, nil, false, err
	}
	plan, err := s.store.FindPlan(ctx, ob.PlanID)
	if err != nil {
		return nil, nil, false, err
	}

	retryable := ob.Status == domain.ObligationStatusFailed && plan.IsSweepable()
	return ob, plan, retryable, nil
}
