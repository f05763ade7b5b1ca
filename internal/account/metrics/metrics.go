package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks account lifecycle transitions and login outcomes.
type Metrics struct {
	Registered     *prometheus.CounterVec
	Approved       *prometheus.CounterVec
	Activated      *prometheus.CounterVec
	LoginAttempts  *prometheus.CounterVec
	SessionsIssued *prometheus.CounterVec
}

// New registers the account metrics on reg. Pass nil for the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Registered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bluecarbon_accounts_registered_total",
			Help: "Accounts created through self-registration, by kind",
		}, []string{"kind"}),
		Approved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bluecarbon_accounts_approved_total",
			Help: "Accounts approved by an administrator, by kind",
		}, []string{"kind"}),
		Activated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bluecarbon_accounts_activated_total",
			Help: "Accounts activated with an OTP, by kind",
		}, []string{"kind"}),
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bluecarbon_login_attempts_total",
			Help: "Password login attempts by outcome",
		}, []string{"outcome"}),
		SessionsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bluecarbon_sessions_issued_total",
			Help: "Session tokens issued after OTP verification, by role",
		}, []string{"role"}),
	}
}

func (m *Metrics) IncRegistered(kind string) { m.Registered.WithLabelValues(kind).Inc() }
func (m *Metrics) IncApproved(kind string)   { m.Approved.WithLabelValues(kind).Inc() }
func (m *Metrics) IncActivated(kind string)  { m.Activated.WithLabelValues(kind).Inc() }
func (m *Metrics) IncLogin(outcome string)   { m.LoginAttempts.WithLabelValues(outcome).Inc() }
func (m *Metrics) IncSession(role string)    { m.SessionsIssued.WithLabelValues(role).Inc() }
