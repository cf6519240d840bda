package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segyhp/dunning-engine/internal/domain"
	"github.com/segyhp/dunning-engine/internal/policy"
	"github.com/segyhp/dunning-engine/internal/repository"
	customError "github.com/segyhp/dunning-engine/pkg/errors"
	"github.com/segyhp/dunning-engine/pkg/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Summary reports what one sweep did. It is for observability only.
type Summary struct {
	OrganizationID string          `json:"organization_id"`
	Kind           domain.PlanKind `json:"kind"`
	Processed      int             `json:"processed"`
	Reminded       int             `json:"reminded"`
	Escalated      int             `json:"escalated"`
	Retried        int             `json:"retried"`
	Defaulted      int             `json:"defaulted"`
	Failures       []ItemFailure   `json:"failures,omitempty"`
}

// ItemFailure is an obligation the sweep could not process; the next sweep picks it up again.
type ItemFailure struct {
	ObligationID uuid.UUID `json:"obligation_id"`
	Err          error     `json:"-"`
	Code         string    `json:"code"`
}

type outcome struct {
	processed bool
	reminded  bool
	escalated bool
	retried   bool
	defaulted bool
}

func (s *Summary) add(o outcome) {
	if o.processed {
		s.Processed++
	}
	if o.reminded {
		s.Reminded++
	}
	if o.escalated {
		s.Escalated++
	}
	if o.retried {
		s.Retried++
	}
	if o.defaulted {
		s.Defaulted++
	}
}

type EngineOptions struct {
	Workers int
	Ladders map[domain.PlanKind]policy.Ladder
}

// Engine runs the overdue sweep and owns obligation state changes driven by time.
type Engine struct {
	Deps
	workers int
	ladders map[domain.PlanKind]policy.Ladder
}

func NewEngine(deps Deps, opts EngineOptions) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	ladders := map[domain.PlanKind]policy.Ladder{
		domain.PlanKindInstallment:  policy.InstallmentLadder(),
		domain.PlanKindSubscription: policy.SubscriptionLadder(),
	}
	for kind, l := range opts.Ladders {
		ladders[kind] = l
	}
	return &Engine{
		Deps:    deps.withDefaults(),
		workers: workers,
		ladders: ladders,
	}
}

func (e *Engine) SweepInstallments(ctx context.Context, organizationID string, now time.Time) (*Summary, error) {
	return e.Sweep(ctx, organizationID, domain.PlanKindInstallment, now)
}

func (e *Engine) SweepSubscriptions(ctx context.Context, organizationID string, now time.Time) (*Summary, error) {
	return e.Sweep(ctx, organizationID, domain.PlanKindSubscription, now)
}

// Sweep processes every candidate obligation of the organization's sweepable plans of kind
// whose due date is before now. A failing obligation is recorded in the summary and does not
// stop the sweep.
func (e *Engine) Sweep(ctx context.Context, organizationID string, kind domain.PlanKind, now time.Time) (*Summary, error) {
	start := e.Clock.Now()
	log := e.Logger.WithFields(logrus.Fields{
		"organization_id": organizationID,
		"kind":            kind,
	})

	due, err := e.Store.FindDue(ctx, repository.DueQuery{
		OrganizationID: organizationID,
		Kind:           kind,
		Statuses:       kind.CandidateStatuses(),
		PlanStatuses:   kind.SweepableStatuses(),
		Before:         now,
	})
	if err != nil {
		return nil, err
	}

	summary := &Summary{OrganizationID: organizationID, Kind: kind}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, ob := range due {
		ob := ob
		g.Go(func() error {
			out, err := e.sweepOne(ctx, ob.PlanID, ob.ID, kind, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failures = append(summary.Failures, ItemFailure{
					ObligationID: ob.ID,
					Err:          err,
					Code:         customError.Code(err),
				})
				log.WithError(err).WithField("obligation_id", ob.ID.String()).Warn("sweep item failed")
				return nil
			}
			summary.add(out)
			return nil
		})
	}
	_ = g.Wait()

	e.Observer.RecordSweep(string(kind), e.Clock.Now().Sub(start),
		summary.Processed, summary.Reminded, summary.Escalated, summary.Retried, len(summary.Failures))

	log.WithFields(logrus.Fields{
		"candidates": len(due),
		"processed":  summary.Processed,
		"reminded":   summary.Reminded,
		"escalated":  summary.Escalated,
		"retried":    summary.Retried,
		"defaulted":  summary.Defaulted,
		"failures":   len(summary.Failures),
	}).Info("sweep completed")

	return summary, nil
}

func (e *Engine) sweepOne(ctx context.Context, planID, obligationID uuid.UUID, kind domain.PlanKind, now time.Time) (outcome, error) {
	var out outcome
	var events pending

	err := e.withPlanLock(ctx, planID, "sweep", func() error {
		out, events = outcome{}, nil

		ob, err := e.Store.GetObligation(ctx, obligationID)
		if err != nil {
			return err
		}
		plan, err := e.Store.FindPlan(ctx, ob.PlanID)
		if err != nil {
			return err
		}
		if !stillDue(ob, plan, kind, now) {
			return nil
		}

		out, events, err = e.evaluate(ctx, plan, ob, now)
		return err
	})
	if err != nil {
		return outcome{}, err
	}

	events.emit(ctx, e.Sink)
	return out, nil
}

// stillDue repeats the candidate filter against freshly read state.
func stillDue(ob *domain.Obligation, plan *domain.Plan, kind domain.PlanKind, now time.Time) bool {
	if plan.Kind != kind || !plan.IsSweepable() || !ob.DueDate.Before(now) {
		return false
	}
	for _, s := range kind.CandidateStatuses() {
		if ob.Status == s {
			return true
		}
	}
	return false
}

// evaluate applies one sweep step to ob and persists it. The caller holds the plan lock.
func (e *Engine) evaluate(ctx context.Context, plan *domain.Plan, ob *domain.Obligation, now time.Time) (outcome, pending, error) {
	out := outcome{processed: true}
	var events pending
	dirtyObligation, dirtyPlan := false, false

	daysOverdue := utils.DaysOverdue(ob.DueDate, now)

	if ob.Status == domain.ObligationStatusScheduled {
		ob.Status = domain.ObligationStatusOverdue
		ob.LateFeeAmount = utils.LateFee(ob.Amount, plan.LatePaymentFeePercentage, plan.LatePaymentFeeFixed)
		ob.Recompute()
		dirtyObligation = true
		events.add(domain.NewEvent(domain.EventOverdue, plan, ob, now, map[string]interface{}{
			"daysOverdue":   daysOverdue,
			"lateFeeAmount": ob.LateFeeAmount,
		}))

		if plan.Kind == domain.PlanKindSubscription && plan.Status == domain.PlanStatusActive {
			plan.Status = domain.PlanStatusPastDue
			dirtyPlan = true
			events.add(domain.NewEvent(domain.EventPastDue, plan, ob, now, map[string]interface{}{
				"daysOverdue": daysOverdue,
			}))
		}
	}

	if plan.Kind == domain.PlanKindSubscription && retryDue(ob, now) {
		events.add(markRetrying(plan, ob, now))
		out.retried = true
		if err := e.persist(ctx, plan, dirtyPlan, ob, now); err != nil {
			return outcome{}, nil, err
		}
		return out, events, nil
	}

	ladder := e.ladders[plan.Kind]
	action := ladder.Decide(daysOverdue, ob.RemindersSent, plan.MaxRetryAttempts)

	if action.SendReminder {
		ob.RemindersSent++
		ob.ReminderSentDate = domain.TimePtr(now)
		dirtyObligation = true
		out.reminded = true
		events.add(domain.NewEvent(domain.EventReminder, plan, ob, now, map[string]interface{}{
			"reminderLevel": ob.RemindersSent,
			"daysOverdue":   daysOverdue,
			"message":       action.Message,
		}))
	}

	if action.Escalate {
		out.escalated = true
		events.add(domain.NewEvent(domain.EventEscalated, plan, ob, now, map[string]interface{}{
			"daysOverdue":   daysOverdue,
			"remindersSent": ob.RemindersSent,
		}))
	}

	if action.MarkTerminal {
		// Counted before the status change below; ob itself is still one of the active ones.
		active, err := e.Store.CountActiveObligations(ctx, plan.ID)
		if err != nil {
			return outcome{}, nil, err
		}

		ob.Status = domain.ObligationStatusDefaulted
		ob.NextRetryDate = nil
		dirtyObligation = true
		out.defaulted = true
		events.add(domain.NewEvent(domain.TerminalObligationEvent(plan.Kind), plan, ob, now, map[string]interface{}{
			"daysOverdue": daysOverdue,
			"message":     action.Message,
		}))

		if active <= 1 {
			plan.Status = plan.TerminalStatus()
			dirtyPlan = true
			events.add(domain.NewEvent(domain.TerminalPlanEvent(plan.Kind), plan, nil, now, nil))
		}
	}

	if !dirtyObligation && !dirtyPlan {
		return out, events, nil
	}
	if err := e.persist(ctx, plan, dirtyPlan, ob, now); err != nil {
		return outcome{}, nil, err
	}
	if action.MarkTerminal {
		e.Retries.Cancel(ob.ID)
	}
	return out, events, nil
}

func (e *Engine) persist(ctx context.Context, plan *domain.Plan, savePlan bool, ob *domain.Obligation, now time.Time) error {
	ob.Recompute()
	if err := ob.CheckInvariant(); err != nil {
		return err
	}
	ob.UpdatedAt = now
	if !savePlan {
		return e.Store.SaveAll(ctx, nil, ob)
	}
	plan.UpdatedAt = now
	return e.Store.SaveAll(ctx, plan, ob)
}

func retryDue(ob *domain.Obligation, now time.Time) bool {
	return ob.Status == domain.ObligationStatusFailed && ob.NextRetryDate != nil && !ob.NextRetryDate.After(now)
}

// markRetrying moves a FAILED obligation to PENDING for the transaction processor to pick up.
func markRetrying(plan *domain.Plan, ob *domain.Obligation, now time.Time) domain.Event {
	ob.Status = domain.ObligationStatusPending
	ob.LastRetryDate = domain.TimePtr(now)
	return domain.NewEvent(domain.EventRetry, plan, ob, now, map[string]interface{}{
		"retryAttempts": ob.RetryAttempts,
	})
}

func anyOpen(obligations []*domain.Obligation) bool {
	for _, ob := range obligations {
		if isOpen(ob) {
			return true
		}
	}
	return false
}

// RetryObligation performs the FAILED to PENDING transition for one obligation. It reports
// false without error when the obligation is no longer retryable.
func (e *Engine) RetryObligation(ctx context.Context, obligationID uuid.UUID, now time.Time) (bool, error) {
	ob, err := e.Store.GetObligation(ctx, obligationID)
	if err != nil {
		return false, err
	}

	retried := false
	var events pending
	err = e.withPlanLock(ctx, ob.PlanID, "retry", func() error {
		retried, events = false, nil

		ob, err := e.Store.GetObligation(ctx, obligationID)
		if err != nil {
			return err
		}
		plan, err := e.Store.FindPlan(ctx, ob.PlanID)
		if err != nil {
			return err
		}
		if ob.Status != domain.ObligationStatusFailed || !plan.IsSweepable() {
			return nil
		}

		events.add(markRetrying(plan, ob, now))
		if err := e.persist(ctx, plan, false, ob, now); err != nil {
			return err
		}
		retried = true
		return nil
	})
	if err != nil {
		return false, err
	}

	events.emit(ctx, e.Sink)
	if retried {
		e.Logger.WithField("obligation_id", obligationID.String()).Info("obligation queued for retry")
	}
	return retried, nil
}

// RetryCallback adapts RetryObligation to the retry scheduler's callback, using the engine clock.
func (e *Engine) RetryCallback(ctx context.Context, obligationID uuid.UUID) {
	if _, err := e.RetryObligation(ctx, obligationID, e.Clock.Now()); err != nil {
		e.Logger.WithError(err).WithField("obligation_id", obligationID.String()).Error("retry callback failed")
	}
}

// RequestReminder asks the notification channel to send a reminder for the obligation at
// the given level. Nothing is persisted.
func (e *Engine) RequestReminder(ctx context.Context, obligationID uuid.UUID, level int) error {
	if level < 1 {
		return customError.WrapValidation(fmt.Sprintf("invalid reminder level %d", level), nil)
	}
	ob, err := e.Store.GetObligation(ctx, obligationID)
	if err != nil {
		return err
	}
	if ob.IsTerminal() {
		return customError.WrapTerminalObligation(ob.ID.String(), string(ob.Status))
	}
	plan, err := e.Store.FindPlan(ctx, ob.PlanID)
	if err != nil {
		return err
	}

	e.Sink.Emit(ctx, domain.NewEvent(domain.EventReminderRequested, plan, ob, e.Clock.Now(), map[string]interface{}{
		"reminderLevel": level,
		"amount":        ob.Amount.Add(ob.LateFeeAmount),
		"dueDate":       ob.DueDate,
	}))
	return nil
}

// RestoreRetryTimers re-arms timers for the organization's FAILED obligations from their stored
// nextRetryDate. The store stays authoritative; this only restores wake-ups lost on restart.
func (e *Engine) RestoreRetryTimers(ctx context.Context, organizationID string, now time.Time) (int, error) {
	armed := 0
	for _, kind := range []domain.PlanKind{domain.PlanKindInstallment, domain.PlanKindSubscription} {
		failed, err := e.Store.FindDue(ctx, repository.DueQuery{
			OrganizationID: organizationID,
			Kind:           kind,
			Statuses:       []domain.ObligationStatus{domain.ObligationStatusFailed},
			PlanStatuses:   kind.SweepableStatuses(),
			Before:         now,
		})
		if err != nil {
			return armed, err
		}
		for _, ob := range failed {
			if ob.NextRetryDate == nil {
				continue
			}
			e.Retries.Arm(ob.ID, *ob.NextRetryDate, nil)
			armed++
		}
	}

	if armed > 0 {
		e.Logger.WithFields(logrus.Fields{
			"organization_id": organizationID,
			"armed":           armed,
		}).Info("retry timers restored")
	}
	return armed, nil
}
