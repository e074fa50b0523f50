package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordDocuments(2, 0, 1)
	m.RecordChunks(7)
	m.RecordQuery("retrieval_only", true, 20*time.Millisecond)
	m.RecordFallback(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"docrag_documents_processed_total",
		"docrag_chunks_indexed_total",
		"docrag_queries_total",
		"docrag_query_duration_seconds",
		"docrag_embedding_fallback_total",
	}, names)
}

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordDocuments(3, 1, 0)
	m.RecordDocuments(1, 1, 2)
	m.RecordChunks(5)
	m.RecordQuery("generative", false, time.Second)
	m.RecordQuery("generative", false, time.Second)
	m.RecordFallback(4)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.DocumentsProcessed.WithLabelValues("loaded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocumentsProcessed.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocumentsProcessed.WithLabelValues("failed")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ChunksIndexed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("generative", "false")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.EmbeddingFallbacks))
	assert.Equal(t, 1, testutil.CollectAndCount(m.QueryDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDocuments(1, 1, 1)
		m.RecordChunks(1)
		m.RecordQuery("generative", true, time.Millisecond)
		m.RecordFallback(1)
	})
}
