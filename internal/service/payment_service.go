package service

import (
	"context"
	"fmt"
	"time"

	"github.com/segyhp/dunning-engine/internal/domain"
	"github.com/segyhp/dunning-engine/internal/policy"
	customError "github.com/segyhp/dunning-engine/pkg/errors"
	"github.com/segyhp/dunning-engine/pkg/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	PaymentOutcomeApplied   = "applied"
	PaymentOutcomeRejected  = "rejected"
	PaymentOutcomeFailed    = "failed"
	PaymentOutcomeDuplicate = "duplicate"
)

// PaymentResult is the state after a confirmation was applied.
type PaymentResult struct {
	Obligation *domain.Obligation `json:"obligation"`
	Plan       *domain.Plan       `json:"plan"`

	// Duplicate is set when the transaction reference was already credited; nothing changed.
	Duplicate bool `json:"duplicate"`
}

// PaymentApplier reconciles transaction processor outcomes against obligations and plans.
type PaymentApplier struct {
	Deps
	validate *validator.Validate
}

func NewPaymentApplier(deps Deps) *PaymentApplier {
	return &PaymentApplier{
		Deps:     deps.withDefaults(),
		validate: domain.NewValidator(),
	}
}

// ApplyPayment applies a confirmed payment. Amounts accumulate on the obligation and its plan;
// a plan without open obligations and nothing remaining completes. A transaction reference
// already credited to the obligation is acknowledged without changing anything, so redelivered
// signals are safe.
func (s *PaymentApplier) ApplyPayment(ctx context.Context, confirmation domain.PaymentConfirmation, now time.Time) (*PaymentResult, error) {
	if !confirmation.Amount.IsPositive() {
		s.Observer.RecordPayment(PaymentOutcomeRejected)
		return nil, customError.WrapInvalidPaymentAmount(confirmation.Amount)
	}
	if err := s.validate.Struct(confirmation); err != nil {
		s.Observer.RecordPayment(PaymentOutcomeRejected)
		return nil, customError.WrapValidation("invalid payment confirmation", err)
	}

	ob, err := s.Store.GetObligation(ctx, confirmation.ObligationID)
	if err != nil {
		return nil, err
	}

	var result *PaymentResult
	var events pending
	err = s.withPlanLock(ctx, ob.PlanID, "payment", func() error {
		result, events = nil, nil

		ob, err := s.Store.GetObligation(ctx, confirmation.ObligationID)
		if err != nil {
			return err
		}
		plan, err := s.Store.FindPlan(ctx, ob.PlanID)
		if err != nil {
			return err
		}
		if ob.HasApplied(confirmation.TransactionRef) {
			result = &PaymentResult{Obligation: ob, Plan: plan, Duplicate: true}
			return nil
		}
		if ob.IsTerminal() {
			return customError.WrapTerminalObligation(ob.ID.String(), string(ob.Status))
		}
		obligations, err := s.Store.ListObligations(ctx, plan.ID)
		if err != nil {
			return err
		}

		ob.PaidAmount = ob.PaidAmount.Add(confirmation.Amount)
		ob.Recompute()
		ob.TransactionRef = confirmation.TransactionRef
		ob.AppliedRefs = append(ob.AppliedRefs, confirmation.TransactionRef)
		ob.NextRetryDate = nil
		ob.UpdatedAt = now
		if ob.RemainingAmount.Sign() <= 0 {
			ob.Status = domain.ObligationStatusPaid
			ob.PaidDate = domain.TimePtr(now)
		} else {
			ob.Status = domain.ObligationStatusPartiallyPaid
		}
		if err := ob.CheckInvariant(); err != nil {
			return err
		}

		plan.PaidAmount = plan.PaidAmount.Add(confirmation.Amount)
		plan.RemainingAmount = utils.NonNegative(plan.TotalAmount.Sub(plan.PaidAmount))
		plan.UpdatedAt = now

		all := replace(obligations, ob)
		if err := checkPlanTotals(plan, all); err != nil {
			return err
		}

		switch {
		case !anyOpen(all) && plan.RemainingAmount.Sign() <= 0 && !plan.IsClosed():
			plan.Status = domain.PlanStatusCompleted
			plan.EndDate = domain.TimePtr(now)
			events.add(domain.NewEvent(domain.EventPlanCompleted, plan, nil, now, nil))
		case recovers(plan, ob, all):
			plan.Status = domain.PlanStatusActive
		}

		if err := s.Store.SaveAll(ctx, plan, ob); err != nil {
			return err
		}

		// Emitted ahead of the completion event so consumers see the payment first.
		events = append(pending{domain.NewEvent(domain.EventPaymentProcessed, plan, ob, now, map[string]interface{}{
			"transactionRef":      confirmation.TransactionRef,
			"amount":              confirmation.Amount,
			"remainingPlanAmount": plan.RemainingAmount,
		})}, events...)
		result = &PaymentResult{Obligation: ob, Plan: plan}
		return nil
	})
	if err != nil {
		if customError.IsValidation(err) {
			s.Observer.RecordPayment(PaymentOutcomeRejected)
		}
		return nil, err
	}

	if result.Duplicate {
		s.Observer.RecordPayment(PaymentOutcomeDuplicate)
		s.Logger.WithFields(logrus.Fields{
			"obligation_id":   result.Obligation.ID.String(),
			"transaction_ref": confirmation.TransactionRef,
		}).Warn("payment already applied, ignoring")
		return result, nil
	}

	s.Retries.Cancel(result.Obligation.ID)
	events.emit(ctx, s.Sink)
	s.Observer.RecordPayment(PaymentOutcomeApplied)

	s.Logger.WithFields(logrus.Fields{
		"obligation_id":   result.Obligation.ID.String(),
		"plan_id":         result.Plan.ID.String(),
		"transaction_ref": confirmation.TransactionRef,
		"status":          result.Obligation.Status,
	}).Info("payment applied")

	return result, nil
}

// checkPlanTotals asserts plan.PaidAmount equals the down payment plus the sum of its
// obligations' paid amounts.
func checkPlanTotals(plan *domain.Plan, obligations []*domain.Obligation) error {
	sum := plan.DownPaymentAmount
	for _, ob := range obligations {
		sum = sum.Add(ob.PaidAmount)
	}
	if !sum.Equal(plan.PaidAmount) {
		return customError.WrapInvariantViolation(
			fmt.Sprintf("plan %s paid %s, down payment and obligations sum to %s", plan.ID, plan.PaidAmount, sum))
	}
	return nil
}

// recovers reports whether a settled subscription cycle returns its plan to ACTIVE.
func recovers(plan *domain.Plan, settled *domain.Obligation, obligations []*domain.Obligation) bool {
	if plan.Kind != domain.PlanKindSubscription || settled.Status != domain.ObligationStatusPaid {
		return false
	}
	if plan.Status != domain.PlanStatusPastDue && plan.Status != domain.PlanStatusUnpaid {
		return false
	}
	for _, ob := range obligations {
		switch ob.Status {
		case domain.ObligationStatusOverdue, domain.ObligationStatusFailed, domain.ObligationStatusPending:
			return false
		}
	}
	return true
}

// RecordFailure registers a failed payment attempt reported by the transaction processor and
// schedules the next retry, or closes the plan once attempts are exhausted.
func (s *PaymentApplier) RecordFailure(ctx context.Context, obligationID uuid.UUID, reason string, now time.Time) (*domain.Obligation, error) {
	ob, err := s.Store.GetObligation(ctx, obligationID)
	if err != nil {
		return nil, err
	}

	var updated *domain.Obligation
	var events pending
	err = s.withPlanLock(ctx, ob.PlanID, "failure", func() error {
		updated, events = nil, nil

		ob, err := s.Store.GetObligation(ctx, obligationID)
		if err != nil {
			return err
		}
		if ob.IsTerminal() {
			return customError.WrapTerminalObligation(ob.ID.String(), string(ob.Status))
		}
		plan, err := s.Store.FindPlan(ctx, ob.PlanID)
		if err != nil {
			return err
		}
		if plan.IsClosed() {
			return customError.WrapValidation(fmt.Sprintf("plan %s is %s", plan.ID, plan.Status), nil)
		}

		planChanged := false
		ob.Status = domain.ObligationStatusFailed
		ob.RetryAttempts++
		ob.LastRetryDate = domain.TimePtr(now)
		ob.FailureReason = reason
		ob.UpdatedAt = now
		ob.Recompute()

		next, ok := policy.NextRetry(now, ob.RetryAttempts, plan.MaxRetryAttempts)
		var nextRetry interface{}
		if ok {
			ob.NextRetryDate = domain.TimePtr(next)
			nextRetry = next
			if plan.Kind == domain.PlanKindSubscription && plan.Status == domain.PlanStatusActive {
				plan.Status = domain.PlanStatusPastDue
				planChanged = true
			}
		} else {
			ob.NextRetryDate = nil
		}

		events.add(domain.NewEvent(domain.EventPaymentFailed, plan, ob, now, map[string]interface{}{
			"reason":        reason,
			"retryAttempts": ob.RetryAttempts,
			"nextRetryDate": nextRetry,
		}))

		if !ok && plan.Status != plan.TerminalStatus() {
			plan.Status = plan.TerminalStatus()
			planChanged = true
			events.add(domain.NewEvent(domain.EventMaxRetriesReached, plan, ob, now, map[string]interface{}{
				"retryAttempts":    ob.RetryAttempts,
				"maxRetryAttempts": plan.MaxRetryAttempts,
			}))
			events.add(domain.NewEvent(domain.TerminalPlanEvent(plan.Kind), plan, nil, now, nil))
		}

		if err := ob.CheckInvariant(); err != nil {
			return err
		}
		if planChanged {
			plan.UpdatedAt = now
			err = s.Store.SaveAll(ctx, plan, ob)
		} else {
			err = s.Store.SaveAll(ctx, nil, ob)
		}
		if err != nil {
			return err
		}
		updated = ob
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.NextRetryDate != nil {
		s.Retries.Arm(updated.ID, *updated.NextRetryDate, nil)
	} else {
		s.Retries.Cancel(updated.ID)
	}
	events.emit(ctx, s.Sink)
	s.Observer.RecordPayment(PaymentOutcomeFailed)

	s.Logger.WithFields(logrus.Fields{
		"obligation_id":  updated.ID.String(),
		"retry_attempts": updated.RetryAttempts,
		"reason":         reason,
	}).Warn("payment attempt failed")

	return updated, nil
}
