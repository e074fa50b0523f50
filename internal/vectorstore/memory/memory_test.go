package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

func entry(id string, vec ...float32) domain.Entry {
	return domain.Entry{Chunk: domain.Chunk{ID: id, Content: "content " + id}, Vector: vec}
}

func ids(results []domain.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestStorage_SearchRanksByCosineThenInsertion(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	n, err := s.Append(ctx, []domain.Entry{
		entry("far", 0, 1),
		entry("tie-1", 1, 1),
		entry("best", 1, 0),
		entry("tie-2", 2, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	res, err := s.Search(ctx, []float32{1, 0.2}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"best", "tie-1", "tie-2", "far"}, ids(res))
	assert.InDelta(t, res[1].Score, res[2].Score, 1e-9)

	res, err = s.Search(ctx, []float32{1, 0.2}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"best", "tie-1"}, ids(res))
}

func TestStorage_AppendSkipsKnownIDs(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	_, err := s.Append(ctx, []domain.Entry{entry("a", 1, 0)})
	require.NoError(t, err)

	n, err := s.Append(ctx, []domain.Entry{entry("a", 1, 0), entry("b", 0, 1), entry("b", 0, 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	count, _ := s.Count(ctx)
	assert.Equal(t, 2, count)
	assert.True(t, s.Contains("b"))
}

func TestStorage_DimensionIsFixedByFirstAppend(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	dim, _ := s.Dimension(ctx)
	assert.Equal(t, 0, dim)

	_, err := s.Append(ctx, []domain.Entry{entry("a", 1, 0, 0)})
	require.NoError(t, err)
	dim, _ = s.Dimension(ctx)
	assert.Equal(t, 3, dim)

	_, err = s.Append(ctx, []domain.Entry{entry("b", 1, 0)})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	_, err = s.Search(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	require.NoError(t, s.Drop(ctx))
	require.NoError(t, s.Drop(ctx))
	dim, _ = s.Dimension(ctx)
	assert.Equal(t, 0, dim)
	res, err := s.Search(ctx, []float32{1}, 1)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 1}, []float32{-1, -1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}
