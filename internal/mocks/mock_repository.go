package mocks

import (
	"context"

	"github.com/segyhp/dunning-engine/internal/domain"
	"github.com/segyhp/dunning-engine/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockObligationStore struct {
	mock.Mock
}

func (m *MockObligationStore) FindDue(ctx context.Context, q repository.DueQuery) ([]*domain.Obligation, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Obligation), args.Error(1)
}

func (m *MockObligationStore) GetObligation(ctx context.Context, id uuid.UUID) (*domain.Obligation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Obligation), args.Error(1)
}

func (m *MockObligationStore) ListObligations(ctx context.Context, planID uuid.UUID) ([]*domain.Obligation, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Obligation), args.Error(1)
}

func (m *MockObligationStore) Save(ctx context.Context, obligation *domain.Obligation) error {
	args := m.Called(ctx, obligation)
	return args.Error(0)
}

func (m *MockObligationStore) FindPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Plan), args.Error(1)
}

func (m *MockObligationStore) SavePlan(ctx context.Context, plan *domain.Plan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

func (m *MockObligationStore) SaveAll(ctx context.Context, plan *domain.Plan, obligations ...*domain.Obligation) error {
	args := m.Called(ctx, plan, obligations)
	return args.Error(0)
}

func (m *MockObligationStore) CountActiveObligations(ctx context.Context, planID uuid.UUID) (int, error) {
	args := m.Called(ctx, planID)
	return args.Int(0), args.Error(1)
}

var _ repository.ObligationStore = (*MockObligationStore)(nil)
