package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks OTP issuance and validation outcomes.
type Metrics struct {
	Issued               *prometheus.CounterVec
	Validated            prometheus.Counter
	ValidationFailed     prometheus.Counter
	NotificationFailures prometheus.Counter
	RateLimited          prometheus.Counter
	Purged               prometheus.Counter
}

// New registers the OTP metrics on reg. Pass nil for the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Issued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bluecarbon_otp_issued_total",
			Help: "OTP challenges issued by purpose",
		}, []string{"purpose"}),
		Validated: factory.NewCounter(prometheus.CounterOpts{
			Name: "bluecarbon_otp_validated_total",
			Help: "OTP challenges successfully consumed",
		}),
		ValidationFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bluecarbon_otp_validation_failed_total",
			Help: "OTP validations with no matching live challenge",
		}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "bluecarbon_otp_notification_failures_total",
			Help: "OTP deliveries the notifier rejected",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "bluecarbon_otp_rate_limited_total",
			Help: "OTP issuance attempts refused by the limiter",
		}),
		Purged: factory.NewCounter(prometheus.CounterOpts{
			Name: "bluecarbon_otp_purged_total",
			Help: "Expired OTP challenges removed by the purge loop",
		}),
	}
}

func (m *Metrics) IncrementIssued(purpose string) {
	m.Issued.WithLabelValues(purpose).Inc()
}

func (m *Metrics) IncrementValidated() {
	m.Validated.Inc()
}

func (m *Metrics) IncrementValidationFailed() {
	m.ValidationFailed.Inc()
}

func (m *Metrics) IncrementNotificationFailures() {
	m.NotificationFailures.Inc()
}

func (m *Metrics) IncrementRateLimited() {
	m.RateLimited.Inc()
}

func (m *Metrics) AddPurged(n int64) {
	m.Purged.Add(float64(n))
}
