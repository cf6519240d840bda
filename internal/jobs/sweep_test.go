package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/segyhp/dunning-engine/internal/clock"
	"github.com/segyhp/dunning-engine/internal/domain"
	"github.com/segyhp/dunning-engine/internal/service"
	"github.com/segyhp/dunning-engine/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)

type call struct {
	org  string
	kind domain.PlanKind
	now  time.Time
}

type recordingSweeper struct {
	mu    sync.Mutex
	calls []call
	fail  string
}

func (s *recordingSweeper) Sweep(_ context.Context, org string, kind domain.PlanKind, now time.Time) (*service.Summary, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call{org: org, kind: kind, now: now})
	s.mu.Unlock()
	if org == s.fail {
		return nil, errors.New("store unavailable")
	}
	return &service.Summary{OrganizationID: org, Kind: kind, Processed: 1}, nil
}

func TestSweepJob_RunOnceCoversEveryOrganizationAndKind(t *testing.T) {
	sweeper := &recordingSweeper{fail: "org-b"}
	job := NewSweepJob(sweeper, []string{"org-a", "org-b", "org-c"}, clock.NewFake(testNow), logger.Discard())

	results := job.RunOnce(context.Background())
	require.Len(t, results, 6)

	sort.Slice(results, func(i, k int) bool {
		if results[i].OrganizationID == results[k].OrganizationID {
			return results[i].Kind < results[k].Kind
		}
		return results[i].OrganizationID < results[k].OrganizationID
	})

	for _, r := range results {
		if r.OrganizationID == "org-b" {
			assert.Error(t, r.Err)
			assert.Nil(t, r.Summary)
			continue
		}
		require.NoError(t, r.Err)
		assert.Equal(t, 1, r.Summary.Processed)
	}
	assert.Equal(t, domain.PlanKindInstallment, results[0].Kind)
	assert.Equal(t, domain.PlanKindSubscription, results[1].Kind)

	for _, c := range sweeper.calls {
		assert.Equal(t, testNow, c.now, "one reference time per run")
	}
}

func TestSweepJob_NoOrganizations(t *testing.T) {
	job := NewSweepJob(&recordingSweeper{}, nil, clock.NewFake(testNow), logger.Discard())
	assert.Empty(t, job.RunOnce(context.Background()))
}

func TestNewCron_AcceptsSecondsSpec(t *testing.T) {
	c := NewCron(time.UTC, logger.Discard())
	sweeper := &recordingSweeper{}

	id, err := c.AddJob("0 0 2 * * *", NewSweepJob(sweeper, []string{"org-a"}, clock.NewFake(testNow), logger.Discard()))
	require.NoError(t, err)

	entry := c.Entry(id)
	assert.True(t, entry.Valid())

	_, err = c.AddJob("0 2 * * *", NewSweepJob(sweeper, nil, clock.NewFake(testNow), logger.Discard()))
	assert.Error(t, err, "five-field specs are rejected")
}
