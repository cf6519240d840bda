package service

import (
	"context"
	"fmt"
	"time"

	"github.com/segyhp/dunning-engine/internal/domain"
	customError "github.com/segyhp/dunning-engine/pkg/errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type PlanService struct {
	Deps
	validate *validator.Validate
}

func NewPlanService(deps Deps) *PlanService {
	return &PlanService{
		Deps:     deps.withDefaults(),
		validate: domain.NewValidator(),
	}
}

// CreatePlan validates the request and persists the plan with its pre-generated obligations.
// The down payment is credited at creation; the obligations cover the rest of the total.
// Nothing is written when validation fails.
func (s *PlanService) CreatePlan(ctx context.Context, request *domain.CreatePlanRequest) (*domain.Plan, []*domain.Obligation, error) {
	if err := s.validateCreate(request); err != nil {
		return nil, nil, err
	}

	now := s.Clock.Now()
	status := domain.PlanStatusActive
	if request.Trial {
		status = domain.PlanStatusTrial
	}

	plan := &domain.Plan{
		ID:                       uuid.New(),
		OrganizationID:           request.OrganizationID,
		Kind:                     request.Kind,
		TotalAmount:              request.TotalAmount,
		PaidAmount:               request.DownPaymentAmount,
		RemainingAmount:          request.TotalAmount.Sub(request.DownPaymentAmount),
		DownPaymentAmount:        request.DownPaymentAmount,
		LatePaymentFeePercentage: request.LatePaymentFeePercentage,
		LatePaymentFeeFixed:      request.LatePaymentFeeFixed,
		MaxRetryAttempts:         request.MaxRetryAttempts,
		GracePeriodDays:          request.GracePeriodDays,
		CurrencyCode:             request.CurrencyCode,
		Status:                   status,
		StartDate:                request.StartDate,
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	obligations := make([]*domain.Obligation, 0, len(request.Obligations))
	for i, o := range request.Obligations {
		obligations = append(obligations, &domain.Obligation{
			ID:              uuid.New(),
			PlanID:          plan.ID,
			Sequence:        i + 1,
			Amount:          o.Amount,
			RemainingAmount: o.Amount,
			DueDate:         o.DueDate,
			Status:          domain.ObligationStatusScheduled,
			CurrencyCode:    request.CurrencyCode,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	if err := s.Store.SaveAll(ctx, plan, obligations...); err != nil {
		return nil, nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"plan_id":         plan.ID.String(),
		"organization_id": plan.OrganizationID,
		"kind":            plan.Kind,
		"obligations":     len(obligations),
	}).Info("plan created")

	return plan, obligations, nil
}

func (s *PlanService) validateCreate(request *domain.CreatePlanRequest) error {
	if request == nil {
		return customError.WrapValidation("plan request is required", nil)
	}
	if err := s.validate.Struct(request); err != nil {
		return customError.WrapValidation("invalid plan request", err)
	}
	if request.DownPaymentAmount.GreaterThanOrEqual(request.TotalAmount) {
		return customError.WrapValidation("down payment must be less than total amount", nil)
	}
	if request.StartDate.IsZero() {
		return customError.WrapValidation("start date is required", nil)
	}
	if request.Trial && request.Kind != domain.PlanKindSubscription {
		return customError.WrapValidation("only subscriptions can start in trial", nil)
	}
	financed := decimal.Zero
	for i, o := range request.Obligations {
		if o.DueDate.IsZero() {
			return customError.WrapValidation(fmt.Sprintf("obligation %d has no due date", i+1), nil)
		}
		financed = financed.Add(o.Amount)
	}
	if expected := request.TotalAmount.Sub(request.DownPaymentAmount); !financed.Equal(expected) {
		return customError.WrapValidation(fmt.Sprintf("obligations sum to %s, expected total minus down payment %s",
			financed.StringFixed(2), expected.StringFixed(2)), nil)
	}
	return nil
}

// CancelPlan closes the plan and cancels every obligation still open, together with any armed
// retry timers, in a single write.
func (s *PlanService) CancelPlan(ctx context.Context, planID uuid.UUID, reason string, now time.Time) (*domain.Plan, error) {
	var cancelledPlan *domain.Plan
	var cancelled []uuid.UUID

	err := s.withPlanLock(ctx, planID, "cancel", func() error {
		cancelledPlan, cancelled = nil, nil

		plan, err := s.Store.FindPlan(ctx, planID)
		if err != nil {
			return err
		}
		if plan.IsClosed() {
			return customError.WrapValidation(fmt.Sprintf("plan %s is already %s", plan.ID, plan.Status), nil)
		}
		obligations, err := s.Store.ListObligations(ctx, plan.ID)
		if err != nil {
			return err
		}

		var changed []*domain.Obligation
		for _, ob := range obligations {
			if !ob.IsActive() {
				continue
			}
			ob.Status = domain.ObligationStatusCancelled
			ob.NextRetryDate = nil
			ob.UpdatedAt = now
			ob.Recompute()
			changed = append(changed, ob)
		}

		plan.Status = domain.PlanStatusCancelled
		plan.CancellationReason = reason
		plan.EndDate = domain.TimePtr(now)
		plan.UpdatedAt = now

		if err := s.Store.SaveAll(ctx, plan, changed...); err != nil {
			return err
		}
		for _, ob := range changed {
			cancelled = append(cancelled, ob.ID)
		}
		cancelledPlan = plan
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range cancelled {
		s.Retries.Cancel(id)
	}
	s.Sink.Emit(ctx, domain.NewEvent(domain.EventPlanCancelled, cancelledPlan, nil, now, map[string]interface{}{
		"reason":          reason,
		"paidAmount":      cancelledPlan.PaidAmount,
		"remainingAmount": cancelledPlan.RemainingAmount,
	}))

	s.Logger.WithFields(logrus.Fields{
		"plan_id":     cancelledPlan.ID.String(),
		"obligations": len(cancelled),
		"reason":      reason,
	}).Info("plan cancelled")

	return cancelledPlan, nil
}
