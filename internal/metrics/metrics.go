package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for the dunning engine.
type Observer interface {
	RecordSweep(kind string, duration time.Duration, processed, reminded, escalated, retried, failed int)
	RecordPayment(outcome string)
	RecordRetryArmed()
	RecordRetryFired(acted bool)
	RecordConflict(operation string)
}

// PrometheusObserver exports dunning metrics to Prometheus.
type PrometheusObserver struct {
	sweepDuration *prometheus.HistogramVec
	sweepItems    *prometheus.CounterVec
	payments      *prometheus.CounterVec
	retriesArmed  prometheus.Counter
	retriesFired  *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
}

// NewPrometheusObserver registers sweep/payment/retry metrics.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "dunning"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	observer := &PrometheusObserver{
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Latency of one organization sweep.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Obligations touched by sweeps, by outcome.",
		}, []string{"kind", "outcome"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment signals applied, by outcome.",
		}, []string{"outcome"}),
		retriesArmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_armed_total",
			Help:      "Retry timers armed.",
		}),
		retriesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_fired_total",
			Help:      "Retry timers fired, split by whether the obligation was still retryable.",
		}, []string{"acted"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Concurrent modification conflicts.",
		}, []string{"operation"}),
	}
	collectors := []prometheus.Collector{
		observer.sweepDuration, observer.sweepItems, observer.payments,
		observer.retriesArmed, observer.retriesFired, observer.conflicts,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, fmt.Errorf("register dunning metric: %w", err)
		}
	}
	return observer, nil
}

func (o *PrometheusObserver) RecordSweep(kind string, duration time.Duration, processed, reminded, escalated, retried, failed int) {
	if o == nil {
		return
	}
	o.sweepDuration.WithLabelValues(kind).Observe(duration.Seconds())
	o.sweepItems.WithLabelValues(kind, "processed").Add(float64(processed))
	o.sweepItems.WithLabelValues(kind, "reminded").Add(float64(reminded))
	o.sweepItems.WithLabelValues(kind, "escalated").Add(float64(escalated))
	o.sweepItems.WithLabelValues(kind, "retried").Add(float64(retried))
	o.sweepItems.WithLabelValues(kind, "failed").Add(float64(failed))
}

func (o *PrometheusObserver) RecordPayment(outcome string) {
	if o == nil {
		return
	}
	o.payments.WithLabelValues(outcome).Inc()
}

func (o *PrometheusObserver) RecordRetryArmed() {
	if o == nil {
		return
	}
	o.retriesArmed.Inc()
}

func (o *PrometheusObserver) RecordRetryFired(acted bool) {
	if o == nil {
		return
	}
	label := "false"
	if acted {
		label = "true"
	}
	o.retriesFired.WithLabelValues(label).Inc()
}

func (o *PrometheusObserver) RecordConflict(operation string) {
	if o == nil {
		return
	}
	o.conflicts.WithLabelValues(operation).Inc()
}

type nopObserver struct{}

// Nop returns an Observer that records nothing.
func Nop() Observer { return nopObserver{} }

func (nopObserver) RecordSweep(string, time.Duration, int, int, int, int, int) {}

func (nopObserver) RecordPayment(string) {}

func (nopObserver) RecordRetryArmed() {}

func (nopObserver) RecordRetryFired(bool) {}

func (nopObserver) RecordConflict(string) {}
