// Package metrics holds the process metrics registry. The registry is
// constructed once at startup and passed to the components that record into
// it; nothing here is package-level state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the service counters with the prometheus registry they
// are registered in.
type Registry struct {
	reg *prometheus.Registry

	Pages *prometheus.CounterVec

	UploadsDeduplicated prometheus.Counter
	UploadsStored       prometheus.Counter
	IngestDuration      prometheus.Histogram

	RepositoryCacheHits   prometheus.Counter
	RepositoryCacheMisses prometheus.Counter
	RepositoryFetchErrors prometheus.Counter

	RunsCreated prometheus.Counter
}

func New() *Registry {
	m := &Registry{
		reg: prometheus.NewRegistry(),
		Pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reproserver_pages_total",
			Help: "Page requests by handler name",
		}, []string{"name"}),
		UploadsDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reproserver_uploads_deduplicated_total",
			Help: "Ingested packages whose content hash was already stored",
		}),
		UploadsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reproserver_uploads_stored_total",
			Help: "Ingested packages stored for the first time",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reproserver_ingest_seconds",
			Help:    "Duration of package ingestion",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RepositoryCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reproserver_repository_cache_hits_total",
			Help: "Remote-repository resolutions served from an existing upload",
		}),
		RepositoryCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reproserver_repository_cache_misses_total",
			Help: "Remote-repository resolutions that fetched from the provider",
		}),
		RepositoryFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reproserver_repository_fetch_errors_total",
			Help: "Failed provider metadata or download calls",
		}),
		RunsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reproserver_runs_created_total",
			Help: "Runs created and handed to the runner",
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Pages,
		m.UploadsDeduplicated,
		m.UploadsStored,
		m.IngestDuration,
		m.RepositoryCacheHits,
		m.RepositoryCacheMisses,
		m.RepositoryFetchErrors,
		m.RunsCreated,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Page records a hit for a named handler.
func (m *Registry) Page(name string) {
	if m == nil {
		return
	}
	m.Pages.WithLabelValues(name).Inc()
}
