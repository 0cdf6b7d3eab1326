package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the controller's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so tests can skip wiring it.
type Metrics struct {
	// Enrollment outcomes: success, failure, aborted.
	EnrollmentOutcome *prometheus.CounterVec

	// Start requests rejected before a session began: busy, duplicate, capacity_full, invalid.
	EnrollmentRejected *prometheus.CounterVec

	// Access decisions after a sensor match: granted, consistency_fault, actuator_error.
	AccessDecision *prometheus.CounterVec

	// 1 while a drawer is unlocked.
	DrawerUnlocked *prometheus.GaugeVec

	TickDuration prometheus.Histogram
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EnrollmentOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "armario_enrollment_outcomes_total",
			Help: "Finished enrollment sessions by outcome",
		}, []string{"outcome"}),

		EnrollmentRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "armario_enrollment_rejections_total",
			Help: "Enrollment start requests rejected by reason",
		}, []string{"reason"}),

		AccessDecision: f.NewCounterVec(prometheus.CounterOpts{
			Name: "armario_access_decisions_total",
			Help: "Access decisions by result",
		}, []string{"result"}),

		DrawerUnlocked: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "armario_drawer_unlocked",
			Help: "1 while the drawer is unlocked",
		}, []string{"drawer"}),

		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "armario_tick_duration_seconds",
			Help:    "Duration of one controller tick",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) IncEnrollmentOutcome(outcome string) {
	if m != nil {
		m.EnrollmentOutcome.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncEnrollmentRejected(reason string) {
	if m != nil {
		m.EnrollmentRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncAccessDecision(result string) {
	if m != nil {
		m.AccessDecision.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SetDrawerUnlocked(drawer string, unlocked bool) {
	if m == nil {
		return
	}
	v := 0.0
	if unlocked {
		v = 1
	}
	m.DrawerUnlocked.WithLabelValues(drawer).Set(v)
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m != nil {
		m.TickDuration.Observe(d.Seconds())
	}
}
