package control

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordPerSession(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.TransferAdded("a")
	m.TransferAdded("a")
	m.TransferAdded("b")
	m.TransferCompleted("a", "ok")
	m.SessionStopped("b", "error")
	m.SetWatchedSockets("a", 3)
	m.SetRunning("a", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.added.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.added.WithLabelValues("b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed.WithLabelValues("a", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stopped.WithLabelValues("b", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sockets.WithLabelValues("a")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.running.WithLabelValues("a")))

	n, err := testutil.GatherAndCount(reg, "xfer_transfers_added_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetricsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TransferAdded("s")
		m.TransferCompleted("s", "ok")
		m.SessionStopped("s", "closed")
		m.SetWatchedSockets("s", 1)
		m.SetRunning("s", 1)
	})
}
