package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonathan/rivalops/internal/types"
)

// Metrics holds the pipeline's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	fetchAttempts *prometheus.CounterVec
	escalations   prometheus.Counter
	deliveries    *prometheus.CounterVec
}

// NewMetrics registers the collectors on a new registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rivalops_runs_total",
			Help: "Total pipeline runs by final status",
		}, []string{"status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rivalops_run_duration_seconds",
			Help:    "Pipeline run duration by final status",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
		fetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rivalops_fetch_attempts_total",
			Help: "Fetch attempts by crawl strategy and outcome",
		}, []string{"strategy", "outcome"}),
		escalations: factory.NewCounter(prometheus.CounterOpts{
			Name: "rivalops_escalations_total",
			Help: "Drift analyses escalated from the fast to the smart model",
		}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rivalops_deliveries_total",
			Help: "Briefing deliveries by channel and outcome",
		}, []string{"channel", "outcome"}),
	}
}

// RunFinished records a finished run.
func (m *Metrics) RunFinished(status types.RunStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// FetchAttempt records one fetch attempt.
func (m *Metrics) FetchAttempt(strategy types.CrawlStrategy, _ int, err error) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(string(strategy), outcome(err)).Inc()
}

// Escalated records a gray zone escalation.
func (m *Metrics) Escalated(float64) {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// Delivered records a delivery attempt on channel.
func (m *Metrics) Delivered(channel string, err error) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, outcome(err)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
