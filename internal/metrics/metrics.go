package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ask outcomes.
const (
	OutcomeGrounded = "grounded"
	OutcomeNotFound = "not_found"
	OutcomeNoIndex  = "no_index"
	OutcomeError    = "error"
	OutcomeSuccess  = "success"
)

// UnknownStore labels requests for stores that were never built.
const UnknownStore = "_unknown"

// External call kinds.
const (
	KindEmbed    = "embed"
	KindComplete = "complete"
)

// Collectors holds the Prometheus metrics of one process. All methods are
// safe on a nil receiver so components can run without metrics.
//
// Metrics:
//   - rag_ingest_total{store,outcome}
//   - rag_ask_total{store,outcome}
//   - rag_external_call_seconds{kind,ok}
//   - rag_chunks_per_ingest
//   - http_requests_total{method,route,status}
type Collectors struct {
	Registry *prometheus.Registry

	IngestTotal         *prometheus.CounterVec
	AskTotal            *prometheus.CounterVec
	ExternalCallSeconds *prometheus.HistogramVec
	ChunksPerIngest     prometheus.Histogram
	HTTPRequestsTotal   *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collectors{
		Registry: reg,
		IngestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_ingest_total",
				Help: "Total number of store ingestions by outcome",
			},
			[]string{"store", "outcome"},
		),
		AskTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_ask_total",
				Help: "Total number of questions answered by outcome",
			},
			[]string{"store", "outcome"},
		),
		ExternalCallSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rag_external_call_seconds",
				Help:    "Latency of embedding and chat model calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind", "ok"},
		),
		ChunksPerIngest: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rag_chunks_per_ingest",
				Help:    "Number of chunks written per ingestion",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
	}
}

func (c *Collectors) ObserveIngest(store, outcome string, chunks int) {
	if c == nil {
		return
	}
	c.IngestTotal.WithLabelValues(store, outcome).Inc()
	if chunks > 0 {
		c.ChunksPerIngest.Observe(float64(chunks))
	}
}

func (c *Collectors) ObserveAsk(store, outcome string) {
	if c == nil {
		return
	}
	c.AskTotal.WithLabelValues(store, outcome).Inc()
}

func (c *Collectors) ObserveExternalCall(kind string, d time.Duration, ok bool) {
	if c == nil {
		return
	}
	c.ExternalCallSeconds.WithLabelValues(kind, strconv.FormatBool(ok)).Observe(d.Seconds())
}

func (c *Collectors) ObserveHTTP(method, route string, status int) {
	if c == nil {
		return
	}
	c.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}
