// Package metrics holds the Prometheus counters of the authentication service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Signin outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeThrown  = "thrown"
	OutcomeError   = "error"
)

// Metrics groups the counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	signins       *prometheus.CounterVec
	grantsIssued  *prometheus.CounterVec
	grantsRevoked *prometheus.CounterVec
}

// New creates the counters and registers them on reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		signins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_signin_attempts_total",
				Help: "Signin and signup attempts by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		grantsIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_grants_issued_total",
				Help: "Bearer and refresh grants issued.",
			},
			[]string{"type"},
		),
		grantsRevoked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_grants_revoked_total",
				Help: "Grants revoked, including refresh rotation.",
			},
			[]string{"type"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.signins, m.grantsIssued, m.grantsRevoked)
	}
	return m
}

// Signin counts one attempt. method is "password", "record" or "bearer".
func (m *Metrics) Signin(method, outcome string) {
	if m == nil {
		return
	}
	m.signins.WithLabelValues(method, outcome).Inc()
}

// GrantIssued counts an issued grant of typ.
func (m *Metrics) GrantIssued(typ string) {
	if m == nil {
		return
	}
	m.grantsIssued.WithLabelValues(typ).Inc()
}

// GrantRevoked counts a revoked grant of typ.
func (m *Metrics) GrantRevoked(typ string) {
	if m == nil {
		return
	}
	m.grantsRevoked.WithLabelValues(typ).Inc()
}
