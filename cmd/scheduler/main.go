package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/segyhp/dunning-engine/internal/config"
	"github.com/segyhp/dunning-engine/internal/di"
	"github.com/segyhp/dunning-engine/internal/jobs"
	"github.com/segyhp/dunning-engine/pkg/logger"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("Starting dunning scheduler...")

	container, err := di.BuildContainer(cfg, log)
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}
	defer func() {
		if err := container.Cleanup(); err != nil {
			log.WithError(err).Error("cleanup failed")
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	container.Start(ctx)

	orgs := cfg.Organizations()
	if len(orgs) == 0 {
		log.Warn("SCHEDULER_ORGANIZATIONS is empty, nothing will be swept")
	}

	c := jobs.NewCron(cfg.Location(), log)
	job := jobs.NewSweepJob(container.Engine, orgs, container.Clock, log)
	if _, err := c.AddJob(cfg.Scheduler.Cron, job); err != nil {
		log.Fatalf("Error scheduling dunning sweep: %v", err)
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"cron":          cfg.Scheduler.Cron,
		"timezone":      cfg.Scheduler.Timezone,
		"organizations": len(orgs),
	}).Info("Scheduler started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down scheduler...")
	<-c.Stop().Done()
	stop()
	container.Wait()
	log.Info("Scheduler stopped")
}
