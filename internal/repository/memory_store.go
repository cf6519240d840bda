package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/segyhp/dunning-engine/internal/domain"
	customError "github.com/segyhp/dunning-engine/pkg/errors"

	"github.com/google/uuid"
)

// MemoryStore is an in-process ObligationStore with the same versioning rules as the
// Postgres store. Values are copied in and out.
type MemoryStore struct {
	mu          sync.RWMutex
	plans       map[uuid.UUID]*domain.Plan
	obligations map[uuid.UUID]*domain.Obligation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:       make(map[uuid.UUID]*domain.Plan),
		obligations: make(map[uuid.UUID]*domain.Obligation),
	}
}

func (s *MemoryStore) FindDue(_ context.Context, q DueQuery) ([]*domain.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Obligation
	for _, ob := range s.obligations {
		plan, ok := s.plans[ob.PlanID]
		if !ok || plan.OrganizationID != q.OrganizationID || plan.Kind != q.Kind {
			continue
		}
		if !containsStatus(q.Statuses, ob.Status) || !containsPlanStatus(q.PlanStatuses, plan.Status) {
			continue
		}
		if !ob.DueDate.Before(q.Before) {
			continue
		}
		out = append(out, ob.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (s *MemoryStore) GetObligation(_ context.Context, id uuid.UUID) (*domain.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ob, ok := s.obligations[id]
	if !ok {
		return nil, customError.WrapObligationNotFound(id.String())
	}
	return ob.Clone(), nil
}

func (s *MemoryStore) ListObligations(_ context.Context, planID uuid.UUID) ([]*domain.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Obligation
	for _, ob := range s.obligations {
		if ob.PlanID == planID {
			out = append(out, ob.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, obligation *domain.Obligation) error {
	return s.SaveAll(ctx, nil, obligation)
}

func (s *MemoryStore) FindPlan(_ context.Context, id uuid.UUID) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[id]
	if !ok {
		return nil, customError.WrapPlanNotFound(id.String())
	}
	return plan.Clone(), nil
}

func (s *MemoryStore) SavePlan(ctx context.Context, plan *domain.Plan) error {
	return s.SaveAll(ctx, plan)
}

// SaveAll checks every version before writing anything, so a conflict leaves the store untouched.
func (s *MemoryStore) SaveAll(_ context.Context, plan *domain.Plan, obligations ...*domain.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plan != nil {
		if err := s.checkPlanVersion(plan); err != nil {
			return err
		}
	}
	for _, ob := range obligations {
		if err := s.checkObligationVersion(ob); err != nil {
			return err
		}
	}

	if plan != nil {
		plan.Version++
		s.plans[plan.ID] = plan.Clone()
	}
	for _, ob := range obligations {
		ob.Version++
		s.obligations[ob.ID] = ob.Clone()
	}
	return nil
}

func (s *MemoryStore) CountActiveObligations(_ context.Context, planID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, ob := range s.obligations {
		if ob.PlanID == planID && ob.IsActive() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) checkPlanVersion(plan *domain.Plan) error {
	current, ok := s.plans[plan.ID]
	if !ok {
		if plan.Version != 0 {
			return customError.WrapPlanNotFound(plan.ID.String())
		}
		return nil
	}
	if current.Version != plan.Version {
		return customError.WrapConflict("plan " + plan.ID.String())
	}
	return nil
}

func (s *MemoryStore) checkObligationVersion(ob *domain.Obligation) error {
	current, ok := s.obligations[ob.ID]
	if !ok {
		if ob.Version != 0 {
			return customError.WrapObligationNotFound(ob.ID.String())
		}
		return nil
	}
	if current.Version != ob.Version {
		return customError.WrapConflict("obligation " + ob.ID.String())
	}
	return nil
}

func containsStatus(statuses []domain.ObligationStatus, s domain.ObligationStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func containsPlanStatus(statuses []domain.PlanStatus, s domain.PlanStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
