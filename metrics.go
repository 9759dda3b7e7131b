package shopauth

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus counters. A nil *Metrics discards
// observations.
type Metrics struct {
	logins          *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	revocations     *prometheus.CounterVec
	passwordChanges *prometheus.CounterVec
	passwordResets  *prometheus.CounterVec
	auditDropped    prometheus.Counter
}

// NewMetrics creates the counters under namespace and registers them with reg
// when reg is non-nil. Collectors already registered by an earlier engine are
// reused.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Refresh token rotations by outcome.",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_revocations_total",
			Help:      "Session revocations by reason.",
		}, []string{"reason"}),
		passwordChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_changes_total",
			Help:      "Password changes by outcome.",
		}, []string{"outcome"}),
		passwordResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_resets_total",
			Help:      "Forgot-password steps by stage and outcome.",
		}, []string{"stage", "outcome"}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit events dropped because the dispatcher buffer was full.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	m.logins, err = registerOrReuse(reg, m.logins)
	if err != nil {
		return nil, err
	}
	m.registrations, err = registerOrReuse(reg, m.registrations)
	if err != nil {
		return nil, err
	}
	m.refreshes, err = registerOrReuse(reg, m.refreshes)
	if err != nil {
		return nil, err
	}
	m.revocations, err = registerOrReuse(reg, m.revocations)
	if err != nil {
		return nil, err
	}
	m.passwordChanges, err = registerOrReuse(reg, m.passwordChanges)
	if err != nil {
		return nil, err
	}
	m.passwordResets, err = registerOrReuse(reg, m.passwordResets)
	if err != nil {
		return nil, err
	}
	m.auditDropped, err = registerOrReuse(reg, m.auditDropped)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}

func (m *Metrics) login(method string, err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(method, outcome(err)).Inc()
}

func (m *Metrics) register(err error) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) refresh(label string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(label).Inc()
}

func (m *Metrics) revocation(reason string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(reason).Inc()
}

func (m *Metrics) passwordChange(err error) {
	if m == nil {
		return
	}
	m.passwordChanges.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) passwordReset(stage string, err error) {
	if m == nil {
		return
	}
	m.passwordResets.WithLabelValues(stage, outcome(err)).Inc()
}

func (m *Metrics) auditDrop() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}
