package pgvector

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

// Runs against a real database: RAG_TEST_PG_DSN=postgres://... go test ./internal/vectorstore/pgvector
func TestStorage_Postgres(t *testing.T) {
	dsn := os.Getenv("RAG_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("RAG_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn, "docrag_test_"+t.Name(), nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Drop(ctx))

	dim, err := s.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, dim)

	entries := []domain.Entry{
		{Chunk: domain.Chunk{ID: "a", Content: "alpha", Metadata: map[string]string{"source": "a.txt"}}, Vector: []float32{1, 1}},
		{Chunk: domain.Chunk{ID: "b", Content: "beta", Index: 1}, Vector: []float32{2, 2}, Fallback: true},
		{Chunk: domain.Chunk{ID: "c", Content: "gamma", Index: 2}, Vector: []float32{0, 1}},
	}
	n, err := s.Append(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = s.Append(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	res, err := s.Search(ctx, []float32{1, 1}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].Chunk.ID)
	assert.Equal(t, "b", res[1].Chunk.ID)
	assert.True(t, res[1].Fallback)
	assert.Equal(t, "a.txt", res[0].Chunk.Source())

	_, err = s.Append(ctx, []domain.Entry{{Chunk: domain.Chunk{ID: "d"}, Vector: []float32{1, 2, 3}}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	require.NoError(t, s.Drop(ctx))
	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
