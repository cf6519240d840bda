package domain

import (
	"fmt"
	"time"

	customError "github.com/segyhp/dunning-engine/pkg/errors"
	"github.com/segyhp/dunning-engine/pkg/utils"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type ObligationStatus string

const (
	ObligationStatusScheduled     ObligationStatus = "scheduled"
	ObligationStatusPending       ObligationStatus = "pending"
	ObligationStatusOverdue       ObligationStatus = "overdue"
	ObligationStatusPartiallyPaid ObligationStatus = "partially_paid"
	ObligationStatusPaid          ObligationStatus = "paid"
	ObligationStatusFailed        ObligationStatus = "failed"
	ObligationStatusDefaulted     ObligationStatus = "defaulted"
	ObligationStatusCancelled     ObligationStatus = "cancelled"
)

// ActiveObligationStatuses block plan completion.
var ActiveObligationStatuses = []ObligationStatus{
	ObligationStatusScheduled,
	ObligationStatusOverdue,
	ObligationStatusPending,
	ObligationStatusFailed,
}

// Obligation is a single due payment unit: one installment or one subscription billing cycle.
type Obligation struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	PlanID           uuid.UUID        `json:"plan_id" db:"plan_id"`
	Sequence         int              `json:"sequence" db:"sequence"`
	Amount           decimal.Decimal  `json:"amount" db:"amount"`
	PaidAmount       decimal.Decimal  `json:"paid_amount" db:"paid_amount"`
	LateFeeAmount    decimal.Decimal  `json:"late_fee_amount" db:"late_fee_amount"`
	RemainingAmount  decimal.Decimal  `json:"remaining_amount" db:"remaining_amount"`
	DueDate          time.Time        `json:"due_date" db:"due_date"`
	PaidDate         *time.Time       `json:"paid_date,omitempty" db:"paid_date"`
	LastRetryDate    *time.Time       `json:"last_retry_date,omitempty" db:"last_retry_date"`
	NextRetryDate    *time.Time       `json:"next_retry_date,omitempty" db:"next_retry_date"`
	ReminderSentDate *time.Time       `json:"reminder_sent_date,omitempty" db:"reminder_sent_date"`
	RemindersSent    int              `json:"reminders_sent" db:"reminders_sent"`
	RetryAttempts    int              `json:"retry_attempts" db:"retry_attempts"`
	Status           ObligationStatus `json:"status" db:"status"`
	CurrencyCode     string           `json:"currency_code" db:"currency_code"`
	TransactionRef   string           `json:"transaction_ref,omitempty" db:"transaction_ref"`
	FailureReason    string           `json:"failure_reason,omitempty" db:"failure_reason"`
	Version          int              `json:"version" db:"version"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`

	// AppliedRefs holds every transaction reference already credited to this obligation.
	AppliedRefs pq.StringArray `json:"applied_refs,omitempty" db:"applied_refs"`
}

// IsTerminal reports PAID, DEFAULTED and CANCELLED.
func (o *Obligation) IsTerminal() bool {
	switch o.Status {
	case ObligationStatusPaid, ObligationStatusDefaulted, ObligationStatusCancelled:
		return true
	}
	return false
}

func (o *Obligation) IsActive() bool {
	for _, s := range ActiveObligationStatuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// ExpectedRemaining is max(0, amount + lateFee - paid).
func (o *Obligation) ExpectedRemaining() decimal.Decimal {
	return utils.NonNegative(o.Amount.Add(o.LateFeeAmount).Sub(o.PaidAmount))
}

// Recompute refreshes RemainingAmount from the amount fields.
func (o *Obligation) Recompute() {
	o.RemainingAmount = o.ExpectedRemaining()
}

// CheckInvariant fails when RemainingAmount drifted from the amount fields.
func (o *Obligation) CheckInvariant() error {
	if o.RemainingAmount.IsNegative() {
		return customError.WrapInvariantViolation(
			fmt.Sprintf("obligation %s has negative remaining amount %s", o.ID, o.RemainingAmount))
	}
	if expected := o.ExpectedRemaining(); !o.RemainingAmount.Equal(expected) {
		return customError.WrapInvariantViolation(
			fmt.Sprintf("obligation %s remaining %s, expected %s", o.ID, o.RemainingAmount, expected))
	}
	return nil
}

// HasApplied reports whether the payment with this transaction reference was already credited.
func (o *Obligation) HasApplied(transactionRef string) bool {
	for _, ref := range o.AppliedRefs {
		if ref == transactionRef {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never share pointers with callers.
func (o *Obligation) Clone() *Obligation {
	c := *o
	c.PaidDate = cloneTime(o.PaidDate)
	c.LastRetryDate = cloneTime(o.LastRetryDate)
	c.NextRetryDate = cloneTime(o.NextRetryDate)
	c.ReminderSentDate = cloneTime(o.ReminderSentDate)
	if o.AppliedRefs != nil {
		c.AppliedRefs = append(pq.StringArray(nil), o.AppliedRefs...)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr is a small helper for optional timestamps.
func TimePtr(t time.Time) *time.Time {
	return &t
}
