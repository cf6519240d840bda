package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/segyhp/dunning-engine/internal/config"
	"github.com/segyhp/dunning-engine/internal/di"
	"github.com/segyhp/dunning-engine/internal/handler"
	"github.com/segyhp/dunning-engine/pkg/logger"
	"github.com/segyhp/dunning-engine/pkg/response"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

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

	restored := container.RestoreRetryTimers(ctx)
	log.WithField("timers", restored).Info("retry timers restored")

	if container.Consumer != nil {
		container.Go(func() {
			if err := container.Consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("payment signal consumer stopped")
			}
		})
	} else {
		log.Warn("REDIS_URL not set, payment signals are not consumed")
	}

	healthHandler := handler.NewHealthHandler(container.DB, container.Redis, cfg.GetHealthTimeout())
	router := setupRoutes(container, healthHandler, log)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Infof("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	stop()
	container.Wait()

	log.Info("Server exited")
}

func setupRoutes(container *di.Container, healthHandler *handler.HealthHandler, log *logrus.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware(log))

	healthHandler.Register(router)
	router.Handle("/metrics", promhttp.HandlerFor(container.Registry, promhttp.HandlerOpts{})).Methods("GET")

	return router
}
