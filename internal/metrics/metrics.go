// Package metrics holds the Prometheus collectors for reconciliation runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"wikimoves/internal/mediawiki"
)

const namespace = "wikimoves"

type Metrics struct {
	MoveEvents  *prometheus.CounterVec
	ReportLines *prometheus.CounterVec
	Dropped     *prometheus.CounterVec
	Edits       *prometheus.CounterVec
	APIRequests *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	LastSuccess *prometheus.GaugeVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MoveEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "move_events_total",
			Help:      "Move log events fetched from the primary wiki.",
		}, []string{"ns"}),
		ReportLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_lines_total",
			Help:      "Moves written to the report.",
		}, []string{"ns"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_events_total",
			Help:      "Moves left out of the report, by reason.",
		}, []string{"ns", "reason"}),
		Edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_total",
			Help:      "Report edits by result.",
		}, []string{"ns", "result"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "MediaWiki API round trips.",
		}, []string{"wiki", "action", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of one namespace pass.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"ns"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last namespace pass that posted its report.",
		}, []string{"ns"}),
	}
	reg.MustRegister(m.MoveEvents, m.ReportLines, m.Dropped, m.Edits, m.APIRequests, m.RunDuration, m.LastSuccess)
	return m
}

// Observer feeds API round trips from a mediawiki.Client into APIRequests.
func (m *Metrics) Observer() mediawiki.Observer {
	return func(wiki, action, outcome string) {
		m.APIRequests.WithLabelValues(wiki, action, outcome).Inc()
	}
}
