package repository

import (
	"context"
	"time"

	"github.com/segyhp/dunning-engine/internal/domain"

	"github.com/google/uuid"
)

// DueQuery selects obligations for a sweep: one organization, one plan kind, obligation
// statuses, parent-plan statuses, and due dates strictly before Before.
type DueQuery struct {
	OrganizationID string
	Kind           domain.PlanKind
	Statuses       []domain.ObligationStatus
	PlanStatuses   []domain.PlanStatus
	Before         time.Time
}

// ObligationStore defines read/write access to obligations and their plans.
//
// Saves are optimistic: an entity whose Version no longer matches the stored row is rejected
// with a Conflict error. A Version of zero inserts. On success the store bumps Version on the
// caller's value.
type ObligationStore interface {
	// FindDue returns obligations matching q ordered by due date
	FindDue(ctx context.Context, q DueQuery) ([]*domain.Obligation, error)

	// GetObligation retrieves one obligation by id
	GetObligation(ctx context.Context, id uuid.UUID) (*domain.Obligation, error)

	// ListObligations retrieves every obligation of a plan ordered by sequence
	ListObligations(ctx context.Context, planID uuid.UUID) ([]*domain.Obligation, error)

	// Save writes one obligation
	Save(ctx context.Context, obligation *domain.Obligation) error

	// FindPlan retrieves a plan by id
	FindPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error)

	// SavePlan writes one plan
	SavePlan(ctx context.Context, plan *domain.Plan) error

	// SaveAll writes a plan (optional) and obligations in one transaction
	SaveAll(ctx context.Context, plan *domain.Plan, obligations ...*domain.Obligation) error

	// CountActiveObligations counts a plan's SCHEDULED/OVERDUE/PENDING/FAILED obligations
	CountActiveObligations(ctx context.Context, planID uuid.UUID) (int, error)
}
