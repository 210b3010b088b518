package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "backoffice"

// Metrics holds the collectors exercised by the services and middleware
type Metrics struct {
	Registry *prometheus.Registry

	Uploads           *prometheus.CounterVec
	ThumbnailFailures prometheus.Counter
	DeletionsBlocked  *prometheus.CounterVec
	GateDenials       *prometheus.CounterVec
	OrphansRemoved    *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_uploads_total",
			Help:      "Asset uploads by outcome (created, invalid, storage_error).",
		}, []string{"outcome"}),
		ThumbnailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnail_failures_total",
			Help:      "Uploads persisted without a thumbnail.",
		}),
		DeletionsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletions_blocked_total",
			Help:      "Deletions rejected because the entity is still referenced.",
		}, []string{"entity"}),
		GateDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_denials_total",
			Help:      "Authorization gate denials by capability and reason.",
		}, []string{"capability", "reason"}),
		OrphansRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_objects_removed_total",
			Help:      "Stored objects removed by the sweeper, by area.",
		}, []string{"area"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.Uploads,
		m.ThumbnailFailures,
		m.DeletionsBlocked,
		m.GateDenials,
		m.OrphansRemoved,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
