package repository

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/segyhp/dunning-engine/internal/domain"
	customError "github.com/segyhp/dunning-engine/pkg/errors"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL and applies scripts/init.sql, or skips.
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)

	sqlBytes, err := os.ReadFile("../../scripts/init.sql")
	require.NoError(t, err, "failed to read init.sql")
	_, err = db.Exec(string(sqlBytes))
	require.NoError(t, err, "failed to execute init.sql")

	cleanupTestData(t, db)
	t.Cleanup(func() {
		cleanupTestData(t, db)
		db.Close()
	})
	return db
}

func cleanupTestData(t *testing.T, db *sqlx.DB) {
	for _, table := range []string{"obligations", "plans"} {
		_, err := db.Exec(fmt.Sprintf("DELETE FROM %s", table))
		require.NoError(t, err)
	}
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	plan, obs := seedPlan(t, store, "org-1", domain.PlanKindInstallment, domain.PlanStatusActive,
		testNow.AddDate(0, 0, -10), testNow.AddDate(0, 0, 10))

	due, err := store.FindDue(ctx, DueQuery{
		OrganizationID: "org-1",
		Kind:           domain.PlanKindInstallment,
		Statuses:       domain.PlanKindInstallment.CandidateStatuses(),
		PlanStatuses:   domain.PlanKindInstallment.SweepableStatuses(),
		Before:         testNow,
	})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, obs[0].ID, due[0].ID)
	assert.True(t, due[0].Amount.Equal(obs[0].Amount))

	loaded, err := store.FindPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanKindInstallment, loaded.Kind)
	assert.Equal(t, 1, loaded.Version)

	count, err := store.CountActiveObligations(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPostgresStore_StaleVersionConflicts(t *testing.T) {
	db := setupTestDB(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	_, obs := seedPlan(t, store, "org-1", domain.PlanKindInstallment, domain.PlanStatusActive, testNow)

	a, err := store.GetObligation(ctx, obs[0].ID)
	require.NoError(t, err)
	b, err := store.GetObligation(ctx, obs[0].ID)
	require.NoError(t, err)

	a.Status = domain.ObligationStatusOverdue
	require.NoError(t, store.Save(ctx, a))

	b.Status = domain.ObligationStatusPaid
	err = store.Save(ctx, b)
	assert.True(t, customError.IsConflict(err))
}

func TestPostgresStore_AppliedRefsRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	_, obs := seedPlan(t, store, "org-1", domain.PlanKindInstallment, domain.PlanStatusActive, testNow)

	loaded, err := store.GetObligation(ctx, obs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.AppliedRefs)

	loaded.AppliedRefs = append(loaded.AppliedRefs, "txn-1", "txn-2")
	require.NoError(t, store.Save(ctx, loaded))

	again, err := store.GetObligation(ctx, obs[0].ID)
	require.NoError(t, err)
	assert.True(t, again.HasApplied("txn-1"))
	assert.True(t, again.HasApplied("txn-2"))
	assert.False(t, again.HasApplied("txn-3"))
}
