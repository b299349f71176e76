// Package metrics exports protocol activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smallyu/go-ibihop/internal/device"
	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

const namespace = "ibihop"

// Result labels of ibihop_sessions_total.
const (
	ResultAuthenticated = "authenticated"
	ResultRejected      = "rejected"
	ResultInvalidPoint  = "invalid_point"
	ResultTimeout       = "timeout"
	ResultAbandoned     = "abandoned"
	ResultError         = "error"
)

// Metrics implements ibihop.Observer and the device's active session hook.
type Metrics struct {
	sessions *prometheus.CounterVec
	passes   *prometheus.HistogramVec
	active   *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished authentication runs by role and result.",
		}, []string{"role", "result"}),
		passes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Time spent computing one protocol pass.",
			Buckets:   prometheus.ExponentialBuckets(50e-6, 2, 14),
		}, []string{"role", "pass"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Authentication runs in flight.",
		}, []string{"role"}),
	}

	for _, c := range []prometheus.Collector{m.sessions, m.passes, m.active} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// StepCompleted records the duration of one pass.
func (m *Metrics) StepCompleted(role ibihop.Role, step ibihop.Step, elapsed time.Duration) {
	m.passes.WithLabelValues(role.String(), string(step)).Observe(elapsed.Seconds())
}

// SessionFinished counts one finished run.
func (m *Metrics) SessionFinished(outcome *ibihop.Outcome) {
	m.sessions.WithLabelValues(outcome.Role.String(), Result(outcome)).Inc()
}

// SetActiveSessions sets the number of runs in flight for role.
func (m *Metrics) SetActiveSessions(role ibihop.Role, n int) {
	m.active.WithLabelValues(role.String()).Set(float64(n))
}

// Result maps an outcome to its result label.
func Result(outcome *ibihop.Outcome) string {
	switch err := outcome.Err; {
	case err == nil && outcome.Authenticated:
		return ResultAuthenticated
	case errors.Is(err, ibihop.ErrAuthentication), errors.Is(err, ibihop.ErrVerification):
		return ResultRejected
	case errors.Is(err, ibihop.ErrInvalidPoint):
		return ResultInvalidPoint
	case errors.Is(err, device.ErrSessionTimeout), errors.Is(err, context.DeadlineExceeded):
		return ResultTimeout
	case errors.Is(err, context.Canceled):
		return ResultAbandoned
	}
	return ResultError
}

var _ ibihop.Observer = (*Metrics)(nil)
