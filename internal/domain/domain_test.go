package domain

import (
	"testing"
	"time"

	customError "github.com/segyhp/dunning-engine/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObligation_Recompute(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		fee      int64
		paid     int64
		expected int64
	}{
		{name: "nothing paid", amount: 1000, fee: 20, paid: 0, expected: 1020},
		{name: "partially paid", amount: 1000, fee: 20, paid: 500, expected: 520},
		{name: "fully paid", amount: 1000, fee: 20, paid: 1020, expected: 0},
		{name: "overpaid clamps at zero", amount: 1000, fee: 0, paid: 1500, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob := &Obligation{
				ID:            uuid.New(),
				Amount:        decimal.NewFromInt(tt.amount),
				LateFeeAmount: decimal.NewFromInt(tt.fee),
				PaidAmount:    decimal.NewFromInt(tt.paid),
			}
			ob.Recompute()

			assert.True(t, ob.RemainingAmount.Equal(decimal.NewFromInt(tt.expected)),
				"Expected %d, but got %v", tt.expected, ob.RemainingAmount)
			assert.NoError(t, ob.CheckInvariant())
		})
	}
}

func TestObligation_CheckInvariant(t *testing.T) {
	ob := &Obligation{
		ID:              uuid.New(),
		Amount:          decimal.NewFromInt(100),
		RemainingAmount: decimal.NewFromInt(90),
	}
	err := ob.CheckInvariant()
	require.Error(t, err)
	assert.True(t, customError.IsInvariantViolation(err))

	ob.RemainingAmount = decimal.NewFromInt(-1)
	assert.True(t, customError.IsInvariantViolation(ob.CheckInvariant()))
}

func TestObligation_StatusPredicates(t *testing.T) {
	terminal := []ObligationStatus{ObligationStatusPaid, ObligationStatusDefaulted, ObligationStatusCancelled}
	for _, s := range terminal {
		ob := &Obligation{Status: s}
		assert.True(t, ob.IsTerminal(), s)
		assert.False(t, ob.IsActive(), s)
	}

	for _, s := range ActiveObligationStatuses {
		ob := &Obligation{Status: s}
		assert.False(t, ob.IsTerminal(), s)
		assert.True(t, ob.IsActive(), s)
	}

	partial := &Obligation{Status: ObligationStatusPartiallyPaid}
	assert.False(t, partial.IsTerminal())
	assert.False(t, partial.IsActive())
}

func TestObligation_CloneIsDeep(t *testing.T) {
	next := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ob := &Obligation{ID: uuid.New(), NextRetryDate: &next}

	c := ob.Clone()
	*c.NextRetryDate = next.AddDate(0, 0, 1)

	assert.Equal(t, next, *ob.NextRetryDate)

	ob.AppliedRefs = []string{"txn-1"}
	c = ob.Clone()
	c.AppliedRefs[0] = "txn-x"
	assert.Equal(t, "txn-1", ob.AppliedRefs[0])
}

func TestObligation_HasApplied(t *testing.T) {
	ob := &Obligation{}
	assert.False(t, ob.HasApplied("txn-1"))

	ob.AppliedRefs = append(ob.AppliedRefs, "txn-1", "txn-2")
	assert.True(t, ob.HasApplied("txn-1"))
	assert.True(t, ob.HasApplied("txn-2"))
	assert.False(t, ob.HasApplied("txn-3"))
}

func TestPlan_KindRules(t *testing.T) {
	installment := &Plan{Kind: PlanKindInstallment, Status: PlanStatusActive}
	subscription := &Plan{Kind: PlanKindSubscription, Status: PlanStatusPastDue}

	assert.Equal(t, PlanStatusDefaulted, installment.TerminalStatus())
	assert.Equal(t, PlanStatusUnpaid, subscription.TerminalStatus())
	assert.True(t, installment.IsSweepable())
	assert.True(t, subscription.IsSweepable())

	installment.Status = PlanStatusPastDue
	assert.False(t, installment.IsSweepable())

	assert.Equal(t, EventDefaulted, TerminalObligationEvent(PlanKindInstallment))
	assert.Equal(t, EventPlanUnpaid, TerminalPlanEvent(PlanKindSubscription))
}

func TestNewEvent_StampsIdentities(t *testing.T) {
	plan := &Plan{ID: uuid.New(), OrganizationID: "org-1"}
	ob := &Obligation{ID: uuid.New(), PlanID: plan.ID}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	e := NewEvent(EventOverdue, plan, ob, at, map[string]interface{}{"daysOverdue": 3})

	assert.Equal(t, "org-1", e.OrganizationID)
	assert.Equal(t, plan.ID.String(), e.Payload["planId"])
	assert.Equal(t, ob.ID.String(), e.Payload["obligationId"])
	assert.Equal(t, 3, e.Payload["daysOverdue"])
	assert.Equal(t, at, e.OccurredAt)
}

func TestValidator_DecimalTags(t *testing.T) {
	v := NewValidator()

	valid := CreatePlanRequest{
		OrganizationID:           "org-1",
		Kind:                     PlanKindInstallment,
		TotalAmount:              decimal.NewFromInt(3000),
		LatePaymentFeePercentage: decimal.NewFromInt(2),
		MaxRetryAttempts:         3,
		CurrencyCode:             "USD",
		StartDate:                time.Now(),
		Obligations: []CreateObligationRequest{
			{Amount: decimal.NewFromInt(1000), DueDate: time.Now()},
		},
	}
	assert.NoError(t, v.Struct(valid))

	invalid := valid
	invalid.TotalAmount = decimal.Zero
	assert.Error(t, v.Struct(invalid))

	invalid = valid
	invalid.LatePaymentFeePercentage = decimal.NewFromInt(150)
	assert.Error(t, v.Struct(invalid))

	invalid = valid
	invalid.Obligations = []CreateObligationRequest{{Amount: decimal.NewFromInt(-1)}}
	assert.Error(t, v.Struct(invalid))
}
