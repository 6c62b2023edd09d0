package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"kb/internal/domain"
)

// Collector turns engine events into Prometheus metrics.
//
// Metrics:
//   - kb_events_total{type} - events by type
//   - kb_vectorize_duration_seconds{model} - Vectorize latency
//   - kb_embedding_cache_hits_total / kb_embedding_cache_misses_total
//   - kb_chunks_indexed_total{namespace}
//   - kb_search_duration_seconds{namespace}
//   - kb_search_results{namespace} - result count per search
//   - kb_errors_total{type}
type Collector struct {
	events         *prometheus.CounterVec
	vectorizeDur   *prometheus.HistogramVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	chunksIndexed  *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	searchResults  *prometheus.HistogramVec
	errors         *prometheus.CounterVec
}

// NewCollector registers the metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kb_events_total",
			Help: "Total number of engine events by type",
		}, []string{"type"}),
		vectorizeDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kb_vectorize_duration_seconds",
			Help:    "Duration of vectorize calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"model"}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "kb_embedding_cache_hits_total",
			Help: "Total number of embedding cache hits",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "kb_embedding_cache_misses_total",
			Help: "Total number of embedding cache misses",
		}),
		chunksIndexed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kb_chunks_indexed_total",
			Help: "Total number of chunks added to an index",
		}, []string{"namespace"}),
		searchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kb_search_duration_seconds",
			Help:    "Duration of searches in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"namespace"}),
		searchResults: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kb_search_results",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}, []string{"namespace"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kb_errors_total",
			Help: "Total number of failed operations by error kind",
		}, []string{"kind"}),
	}
}

// Observe records ev. Its signature matches events.Handler.
func (c *Collector) Observe(ev domain.Event) {
	c.events.WithLabelValues(string(ev.Type)).Inc()

	if ev.Err != nil {
		kind := string(domain.KindOf(ev.Err))
		if kind == "" {
			kind = "unknown"
		}
		c.errors.WithLabelValues(kind).Inc()
	}

	switch ev.Type {
	case domain.EventVectorizeCompleted:
		c.vectorizeDur.WithLabelValues(ev.Model).Observe(ev.Duration.Seconds())
		c.cacheHits.Add(float64(ev.CacheHits))
		c.cacheMisses.Add(float64(ev.CacheMisses))
	case domain.EventDocumentAdded:
		c.chunksIndexed.WithLabelValues(ev.Namespace).Add(float64(ev.Count))
	case domain.EventSearchCompleted:
		c.searchDuration.WithLabelValues(ev.Namespace).Observe(ev.Duration.Seconds())
		c.searchResults.WithLabelValues(ev.Namespace).Observe(float64(ev.Count))
	}
}
