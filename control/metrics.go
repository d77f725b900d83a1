// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for session activity.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "xfer"

// Metrics groups the session collectors. A nil *Metrics records nothing.
type Metrics struct {
	added     *prometheus.CounterVec
	completed *prometheus.CounterVec
	stopped   *prometheus.CounterVec
	sockets   *prometheus.GaugeVec
	running   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		added: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_added_total",
			Help:      "Transfers handed to a session.",
		}, []string{"session"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_completed_total",
			Help:      "Transfers finished by the engine, by result.",
		}, []string{"session", "result"}),
		stopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_stopped_total",
			Help:      "Sessions that reached the stopped state, by cause.",
		}, []string{"session", "cause"}),
		sockets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_sockets",
			Help:      "Engine sockets currently watched by the reactor.",
		}, []string{"session"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_transfers",
			Help:      "Transfers the engine reports as running.",
		}, []string{"session"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.added, m.completed, m.stopped, m.sockets, m.running} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) TransferAdded(session string) {
	if m == nil {
		return
	}
	m.added.WithLabelValues(session).Inc()
}

func (m *Metrics) TransferCompleted(session, result string) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(session, result).Inc()
}

func (m *Metrics) SessionStopped(session, cause string) {
	if m == nil {
		return
	}
	m.stopped.WithLabelValues(session, cause).Inc()
}

func (m *Metrics) SetWatchedSockets(session string, n int) {
	if m == nil {
		return
	}
	m.sockets.WithLabelValues(session).Set(float64(n))
}

func (m *Metrics) SetRunning(session string, n int) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(session).Set(float64(n))
}
