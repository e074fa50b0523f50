// Package metrics defines the Prometheus collectors for ingest and query.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docrag"

// Metrics holds all collectors. Use New with a registry so tests and
// multiple services do not collide on the default registerer.
type Metrics struct {
	DocumentsProcessed *prometheus.CounterVec
	ChunksIndexed      prometheus.Counter
	QueriesTotal       *prometheus.CounterVec
	QueryDuration      prometheus.Histogram
	EmbeddingFallbacks prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DocumentsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_processed_total",
				Help:      "Source files processed, by outcome",
			},
			[]string{"status"},
		),
		ChunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks embedded and added to the collection",
		}),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Questions answered, by synthesizer mode and success",
			},
			[]string{"mode", "success"},
		),
		// Buckets: 10ms .. 60s, generation dominates the upper end
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time spent answering a question",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		EmbeddingFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_fallback_total",
			Help:      "Texts embedded with placeholder vectors",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.DocumentsProcessed, m.ChunksIndexed, m.QueriesTotal, m.QueryDuration, m.EmbeddingFallbacks)
	}
	return m
}

// RecordDocuments counts source files by outcome: loaded, skipped (unsupported
// or empty) and failed (unreadable).
func (m *Metrics) RecordDocuments(loaded, skipped, failed int) {
	if m == nil {
		return
	}
	m.DocumentsProcessed.WithLabelValues("loaded").Add(float64(loaded))
	m.DocumentsProcessed.WithLabelValues("skipped").Add(float64(skipped))
	m.DocumentsProcessed.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) RecordChunks(n int) {
	if m == nil {
		return
	}
	m.ChunksIndexed.Add(float64(n))
}

// RecordQuery observes one answered question.
func (m *Metrics) RecordQuery(mode string, success bool, took time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(mode, strconv.FormatBool(success)).Inc()
	m.QueryDuration.Observe(took.Seconds())
}

// RecordFallback is shaped to plug into embedding.FallbackConfig.OnFallback.
func (m *Metrics) RecordFallback(n int) {
	if m == nil {
		return
	}
	m.EmbeddingFallbacks.Add(float64(n))
}
