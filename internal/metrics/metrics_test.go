package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestWorkerMetricsCounters(t *testing.T) {
	m := NewWorkerMetrics(101)
	m.BytesIn.Add(10)
	m.PutsOut.Inc()
	m.OutstandingSend.Set(3)

	assert.InDelta(t, 10, testutil.ToFloat64(m.BytesIn), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PutsOut), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.OutstandingSend), 0)
}

func TestNewWorkerMetricsReRegistersSameRankWithoutPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		NewWorkerMetrics(202)
		NewWorkerMetrics(202)
	})
}
