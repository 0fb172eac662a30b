package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ChatTurns          *prometheus.CounterVec
	HTTPResponses      *prometheus.CounterVec
	GenerationLatency  prometheus.Histogram
	RetrievedDocuments prometheus.Histogram
	HistoryDegraded    *prometheus.CounterVec
	ActiveStreams      prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ChatTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by final outcome.",
		}, []string{"outcome"}),
		HTTPResponses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "HTTP responses by route and status code.",
		}, []string{"route", "code"}),
		GenerationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_ms",
			Help:      "Wall time of streamed generations in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		RetrievedDocuments: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_documents",
			Help:      "Documents returned by vector search per turn.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),
		HistoryDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_degraded_total",
			Help:      "History reads that fell back to empty, by status.",
		}, []string{"status"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Chat responses currently streaming.",
		}),
	}
}

func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.ChatTurns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveResponse(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPResponses.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ObserveGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveRetrieval(n int) {
	if m == nil {
		return
	}
	m.RetrievedDocuments.Observe(float64(n))
}

func (m *Metrics) ObserveHistoryDegraded(status string) {
	if m == nil {
		return
	}
	m.HistoryDegraded.WithLabelValues(status).Inc()
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamFinished() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// Handler serves this instance's registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
