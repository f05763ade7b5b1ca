package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks task transitions and ledger mint outcomes.
type Metrics struct {
	Assigned     prometheus.Counter
	Submitted    prometheus.Counter
	Minted       prometheus.Counter
	MintFailures *prometheus.CounterVec
	MintDuration prometheus.Histogram
	UploadURLs   prometheus.Counter
}

// New registers the task metrics on reg. Pass nil for the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Assigned: factory.NewCounter(prometheus.CounterOpts{
			Name: "bluecarbon_tasks_assigned_total",
			Help: "Verification tasks created by administrators",
		}),
		Submitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "bluecarbon_tasks_submitted_total",
			Help: "Verification tasks completed with evidence",
		}),
		Minted: factory.NewCounter(prometheus.CounterOpts{
			Name: "bluecarbon_credits_minted_total",
			Help: "Tasks approved with a confirmed ledger mint",
		}),
		MintFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bluecarbon_mint_failures_total",
			Help: "Failed approve-and-mint attempts by reason",
		}, []string{"reason"}),
		MintDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bluecarbon_mint_duration_seconds",
			Help:    "Time from ledger submission to confirmation",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		UploadURLs: factory.NewCounter(prometheus.CounterOpts{
			Name: "bluecarbon_evidence_upload_urls_total",
			Help: "Presigned evidence upload URLs issued",
		}),
	}
}

func (m *Metrics) IncAssigned()                 { m.Assigned.Inc() }
func (m *Metrics) IncSubmitted()                { m.Submitted.Inc() }
func (m *Metrics) IncMinted()                   { m.Minted.Inc() }
func (m *Metrics) IncMintFailure(reason string) { m.MintFailures.WithLabelValues(reason).Inc() }
func (m *Metrics) IncUploadURL()                { m.UploadURLs.Inc() }
func (m *Metrics) ObserveMint(d time.Duration)  { m.MintDuration.Observe(d.Seconds()) }
