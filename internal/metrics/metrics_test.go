package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserver_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	o.RecordSweep("installment", 10*time.Millisecond, 3, 2, 1, 0, 1)
	o.RecordPayment("applied")
	o.RecordPayment("applied")
	o.RecordRetryArmed()
	o.RecordRetryFired(true)
	o.RecordConflict("sweep")

	assert.Equal(t, 3.0, testutil.ToFloat64(o.sweepItems.WithLabelValues("installment", "processed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.payments.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.retriesArmed))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.retriesFired.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.conflicts.WithLabelValues("sweep")))
}

func TestPrometheusObserver_ReRegisterIsTolerated(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)
	_, err = NewPrometheusObserver("test", reg)
	assert.NoError(t, err)
}

func TestNilAndNopObserversAreSafe(t *testing.T) {
	var o *PrometheusObserver
	o.RecordPayment("applied")
	o.RecordSweep("installment", time.Second, 1, 1, 1, 1, 1)

	Nop().RecordRetryFired(false)
}
