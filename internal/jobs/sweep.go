package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/segyhp/dunning-engine/internal/clock"
	"github.com/segyhp/dunning-engine/internal/domain"
	"github.com/segyhp/dunning-engine/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Sweeper is the engine operation the job drives.
type Sweeper interface {
	Sweep(ctx context.Context, organizationID string, kind domain.PlanKind, now time.Time) (*service.Summary, error)
}

// Result is the outcome of one organization and plan kind in a run.
type Result struct {
	OrganizationID string
	Kind           domain.PlanKind
	Summary        *service.Summary
	Err            error
}

// SweepJob runs the overdue sweep for every configured organization. Organizations run in
// parallel; the two plan kinds of one organization run one after the other.
type SweepJob struct {
	sweeper       Sweeper
	organizations []string
	clock         clock.Clock
	logger        *logrus.Logger
	parallel      int
	timeout       time.Duration
}

func NewSweepJob(sweeper Sweeper, organizations []string, clk clock.Clock, logger *logrus.Logger) *SweepJob {
	return &SweepJob{
		sweeper:       sweeper,
		organizations: organizations,
		clock:         clk,
		logger:        logger,
		parallel:      4,
		timeout:       30 * time.Minute,
	}
}

// Run implements cron.Job.
func (j *SweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	j.RunOnce(ctx)
}

// RunOnce sweeps every organization once with a single reference time.
func (j *SweepJob) RunOnce(ctx context.Context) []Result {
	now := j.clock.Now()
	start := time.Now()

	var (
		mu      sync.Mutex
		results []Result
	)

	var g errgroup.Group
	g.SetLimit(j.parallel)
	for _, org := range j.organizations {
		org := org
		g.Go(func() error {
			for _, kind := range []domain.PlanKind{domain.PlanKindInstallment, domain.PlanKindSubscription} {
				summary, err := j.sweeper.Sweep(ctx, org, kind, now)
				if err != nil {
					j.logger.WithError(err).WithFields(logrus.Fields{
						"organization_id": org,
						"kind":            kind,
					}).Error("sweep failed")
				}

				mu.Lock()
				results = append(results, Result{OrganizationID: org, Kind: kind, Summary: summary, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	j.logger.WithFields(logrus.Fields{
		"organizations": len(j.organizations),
		"duration":      time.Since(start).String(),
	}).Info("dunning run finished")

	return results
}

// NewCron builds a seconds-aware cron that never overlaps runs of the same job.
func NewCron(loc *time.Location, logger *logrus.Logger) *cron.Cron {
	cronLogger := cron.PrintfLogger(logger)
	return cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
}
