package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventOverdue           = "dunning.overdue"
	EventPastDue           = "dunning.past_due"
	EventReminder          = "dunning.reminder"
	EventEscalated         = "dunning.escalated"
	EventDefaulted         = "dunning.defaulted"
	EventUnpaid            = "dunning.unpaid"
	EventPlanDefaulted     = "dunning.plan_defaulted"
	EventPlanUnpaid        = "dunning.plan_unpaid"
	EventRetry             = "dunning.retry"
	EventRetryTrigger      = "dunning.retry_trigger"
	EventPaymentProcessed  = "dunning.payment_processed"
	EventPaymentFailed     = "dunning.payment_failed"
	EventMaxRetriesReached = "dunning.max_retries_reached"
	EventPlanCompleted     = "dunning.plan_completed"
	EventPlanCancelled     = "dunning.plan_cancelled"
	EventReminderRequested = "notification.send_reminder"
)

// Event is a domain event handed to the event sink.
type Event struct {
	ID             uuid.UUID              `json:"id"`
	Name           string                 `json:"name"`
	OrganizationID string                 `json:"organization_id"`
	PlanID         uuid.UUID              `json:"plan_id"`
	ObligationID   uuid.UUID              `json:"obligation_id,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
	Payload        map[string]interface{} `json:"payload"`
}

// NewEvent stamps planId (and obligationId when ob is non-nil) into the payload.
func NewEvent(name string, plan *Plan, ob *Obligation, at time.Time, payload map[string]interface{}) Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	e := Event{
		ID:         uuid.New(),
		Name:       name,
		OccurredAt: at,
		Payload:    payload,
	}
	if plan != nil {
		e.OrganizationID = plan.OrganizationID
		e.PlanID = plan.ID
		payload["planId"] = plan.ID.String()
	}
	if ob != nil {
		e.ObligationID = ob.ID
		payload["obligationId"] = ob.ID.String()
		if plan == nil {
			e.PlanID = ob.PlanID
			payload["planId"] = ob.PlanID.String()
		}
	}
	return e
}

// TerminalObligationEvent is dunning.defaulted for installments and dunning.unpaid for subscriptions.
func TerminalObligationEvent(kind PlanKind) string {
	if kind == PlanKindSubscription {
		return EventUnpaid
	}
	return EventDefaulted
}

func TerminalPlanEvent(kind PlanKind) string {
	if kind == PlanKindSubscription {
		return EventPlanUnpaid
	}
	return EventPlanDefaulted
}
