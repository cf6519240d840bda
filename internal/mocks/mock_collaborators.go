package mocks

import (
	"context"
	"time"

	"github.com/segyhp/dunning-engine/internal/domain"
	"github.com/segyhp/dunning-engine/internal/scheduler"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Emit(ctx context.Context, event domain.Event) {
	m.Called(ctx, event)
}

type MockRetryTimers struct {
	mock.Mock
}

func (m *MockRetryTimers) Arm(obligationID uuid.UUID, fireAt time.Time, cb scheduler.Callback) {
	m.Called(obligationID, fireAt, cb)
}

func (m *MockRetryTimers) Cancel(obligationID uuid.UUID) bool {
	args := m.Called(obligationID)
	return args.Bool(0)
}
