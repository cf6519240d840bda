package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PlanKind string

const (
	PlanKindInstallment  PlanKind = "installment"
	PlanKindSubscription PlanKind = "subscription"
)

type PlanStatus string

const (
	PlanStatusDraft     PlanStatus = "draft"
	PlanStatusTrial     PlanStatus = "trial"
	PlanStatusActive    PlanStatus = "active"
	PlanStatusPastDue   PlanStatus = "past_due"
	PlanStatusUnpaid    PlanStatus = "unpaid"
	PlanStatusDefaulted PlanStatus = "defaulted"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// Plan is the parent aggregate owning a sequence of obligations: an installment plan or a
// recurring subscription.
type Plan struct {
	ID                       uuid.UUID       `json:"id" db:"id"`
	OrganizationID           string          `json:"organization_id" db:"organization_id"`
	Kind                     PlanKind        `json:"kind" db:"kind"`
	TotalAmount              decimal.Decimal `json:"total_amount" db:"total_amount"`
	PaidAmount               decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	RemainingAmount          decimal.Decimal `json:"remaining_amount" db:"remaining_amount"`
	DownPaymentAmount        decimal.Decimal `json:"down_payment_amount" db:"down_payment_amount"`
	LatePaymentFeePercentage decimal.Decimal `json:"late_payment_fee_percentage" db:"late_payment_fee_percentage"`
	LatePaymentFeeFixed      decimal.Decimal `json:"late_payment_fee_fixed" db:"late_payment_fee_fixed"`
	MaxRetryAttempts         int             `json:"max_retry_attempts" db:"max_retry_attempts"`
	GracePeriodDays          int             `json:"grace_period_days" db:"grace_period_days"`
	CurrencyCode             string          `json:"currency_code" db:"currency_code"`
	Status                   PlanStatus      `json:"status" db:"status"`
	StartDate                time.Time       `json:"start_date" db:"start_date"`
	EndDate                  *time.Time      `json:"end_date,omitempty" db:"end_date"`
	CancellationReason       string          `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	Version                  int             `json:"version" db:"version"`
	CreatedAt                time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at" db:"updated_at"`
}

// TerminalStatus is DEFAULTED for installment plans and UNPAID for subscriptions.
func (p *Plan) TerminalStatus() PlanStatus {
	if p.Kind == PlanKindSubscription {
		return PlanStatusUnpaid
	}
	return PlanStatusDefaulted
}

// SweepableStatuses are the plan states the dunning sweep visits.
func (k PlanKind) SweepableStatuses() []PlanStatus {
	if k == PlanKindSubscription {
		return []PlanStatus{PlanStatusActive, PlanStatusPastDue}
	}
	return []PlanStatus{PlanStatusActive}
}

// CandidateStatuses are the obligation states the dunning sweep visits.
func (k PlanKind) CandidateStatuses() []ObligationStatus {
	return []ObligationStatus{ObligationStatusScheduled, ObligationStatusOverdue, ObligationStatusFailed}
}

func (p *Plan) IsSweepable() bool {
	for _, s := range p.Kind.SweepableStatuses() {
		if p.Status == s {
			return true
		}
	}
	return false
}

func (p *Plan) IsClosed() bool {
	return p.Status == PlanStatusCompleted || p.Status == PlanStatusCancelled
}

func (p *Plan) Clone() *Plan {
	c := *p
	c.EndDate = cloneTime(p.EndDate)
	return &c
}

// DTOs for requests

type CreatePlanRequest struct {
	OrganizationID           string                    `json:"organization_id" validate:"required"`
	Kind                     PlanKind                  `json:"kind" validate:"required,oneof=installment subscription"`
	TotalAmount              decimal.Decimal           `json:"total_amount" validate:"gt=0"`
	DownPaymentAmount        decimal.Decimal           `json:"down_payment_amount" validate:"gte=0"`
	LatePaymentFeePercentage decimal.Decimal           `json:"late_payment_fee_percentage" validate:"gte=0,lte=100"`
	LatePaymentFeeFixed      decimal.Decimal           `json:"late_payment_fee_fixed" validate:"gte=0"`
	MaxRetryAttempts         int                       `json:"max_retry_attempts" validate:"gte=1"`
	GracePeriodDays          int                       `json:"grace_period_days" validate:"gte=0"`
	CurrencyCode             string                    `json:"currency_code" validate:"required,len=3"`
	StartDate                time.Time                 `json:"start_date"`
	Trial                    bool                      `json:"trial"`
	Obligations              []CreateObligationRequest `json:"obligations" validate:"required,min=1,dive"`
}

type CreateObligationRequest struct {
	Amount  decimal.Decimal `json:"amount" validate:"gt=0"`
	DueDate time.Time       `json:"due_date"`
}

// PaymentConfirmation is a settled payment reported by the transaction processor.
type PaymentConfirmation struct {
	ObligationID   uuid.UUID       `json:"obligation_id"`
	Amount         decimal.Decimal `json:"amount"`
	TransactionRef string          `json:"transaction_ref" validate:"required"`
}
