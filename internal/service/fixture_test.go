package service

import (
	"context"
	"testing"
	"time"

	"github.com/segyhp/dunning-engine/internal/clock"
	"github.com/segyhp/dunning-engine/internal/domain"
	"github.com/segyhp/dunning-engine/internal/events"
	"github.com/segyhp/dunning-engine/internal/lock"
	"github.com/segyhp/dunning-engine/internal/metrics"
	"github.com/segyhp/dunning-engine/internal/repository"
	"github.com/segyhp/dunning-engine/internal/scheduler"
	"github.com/segyhp/dunning-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const testOrg = "org-1"

type fixture struct {
	clock    *clock.Fake
	store    *repository.MemoryStore
	outbox   *events.Outbox
	retries  *scheduler.RetryScheduler
	engine   *Engine
	payments *PaymentApplier
	plans    *PlanService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  clock.NewFake(testNow),
		store:  repository.NewMemoryStore(),
		outbox: events.NewOutbox(1024),
	}
	locker := lock.NewKeyedMutex(time.Second)
	log := logger.Discard()

	f.retries = scheduler.NewRetryScheduler(f.clock, f.store, locker, f.outbox, metrics.Nop(), log)
	deps := Deps{
		Store:           f.store,
		Locker:          locker,
		Sink:            f.outbox,
		Clock:           f.clock,
		Retries:         f.retries,
		Logger:          log,
		ConflictRetries: 3,
	}
	f.engine = NewEngine(deps, EngineOptions{Workers: 4})
	f.payments = NewPaymentApplier(deps)
	f.plans = NewPlanService(deps)
	f.retries.SetDefaultCallback(f.engine.RetryCallback)
	return f
}

type planTemplate struct {
	kind       domain.PlanKind
	status     domain.PlanStatus
	feePct     decimal.Decimal
	feeFixed   decimal.Decimal
	maxRetries int
}

func installment() planTemplate {
	return planTemplate{kind: domain.PlanKindInstallment, status: domain.PlanStatusActive, feePct: decimal.NewFromInt(2), maxRetries: 3}
}

func subscription() planTemplate {
	return planTemplate{kind: domain.PlanKindSubscription, status: domain.PlanStatusActive, maxRetries: 4}
}

// seed stores a plan with one 1000.00 obligation per due date.
func (f *fixture) seed(t *testing.T, tmpl planTemplate, dueDates ...time.Time) (*domain.Plan, []*domain.Obligation) {
	t.Helper()
	total := decimal.NewFromInt(int64(1000 * len(dueDates)))
	plan := &domain.Plan{
		ID:                       uuid.New(),
		OrganizationID:           testOrg,
		Kind:                     tmpl.kind,
		TotalAmount:              total,
		RemainingAmount:          total,
		LatePaymentFeePercentage: tmpl.feePct,
		LatePaymentFeeFixed:      tmpl.feeFixed,
		MaxRetryAttempts:         tmpl.maxRetries,
		CurrencyCode:             "USD",
		Status:                   tmpl.status,
		StartDate:                testNow.AddDate(0, -6, 0),
	}
	var obligations []*domain.Obligation
	for i, due := range dueDates {
		obligations = append(obligations, &domain.Obligation{
			ID:              uuid.New(),
			PlanID:          plan.ID,
			Sequence:        i + 1,
			Amount:          decimal.NewFromInt(1000),
			RemainingAmount: decimal.NewFromInt(1000),
			DueDate:         due,
			Status:          domain.ObligationStatusScheduled,
			CurrencyCode:    "USD",
		})
	}
	require.NoError(t, f.store.SaveAll(context.Background(), plan, obligations...))
	return plan, obligations
}

func (f *fixture) update(t *testing.T, id uuid.UUID, mutate func(*domain.Obligation)) {
	t.Helper()
	ob, err := f.store.GetObligation(context.Background(), id)
	require.NoError(t, err)
	mutate(ob)
	ob.Recompute()
	require.NoError(t, f.store.Save(context.Background(), ob))
}

func (f *fixture) obligation(t *testing.T, id uuid.UUID) *domain.Obligation {
	t.Helper()
	ob, err := f.store.GetObligation(context.Background(), id)
	require.NoError(t, err)
	return ob
}

func (f *fixture) plan(t *testing.T, id uuid.UUID) *domain.Plan {
	t.Helper()
	plan, err := f.store.FindPlan(context.Background(), id)
	require.NoError(t, err)
	return plan
}

func names(emitted []domain.Event) []string {
	out := make([]string, 0, len(emitted))
	for _, e := range emitted {
		out = append(out, e.Name)
	}
	return out
}

func count(emitted []domain.Event, name string) int {
	n := 0
	for _, e := range emitted {
		if e.Name == name {
			n++
		}
	}
	return n
}

func daysAgo(n int) time.Time {
	return testNow.AddDate(0, 0, -n)
}
