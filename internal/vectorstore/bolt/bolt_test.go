package bolt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

func entries() []domain.Entry {
	return []domain.Entry{
		{Chunk: domain.Chunk{ID: "a", Content: "alpha", Metadata: map[string]string{domain.MetaSource: "a.txt"}, Index: 0}, Vector: []float32{1, 0}},
		{Chunk: domain.Chunk{ID: "b", Content: "beta", Metadata: map[string]string{domain.MetaSource: "b.txt"}, Index: 1}, Vector: []float32{0, 1}, Fallback: true},
	}
}

func TestStorage_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "docs", "index.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "file must not exist before the first append")

	n, err := s.Append(ctx, entries())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	before, err := s.Search(ctx, []float32{1, 0.5}, 5)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	count, _ := reopened.Count(ctx)
	assert.Equal(t, 2, count)
	dim, _ := reopened.Dimension(ctx)
	assert.Equal(t, 2, dim)
	after, err := reopened.Search(ctx, []float32{1, 0.5}, 5)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.True(t, after[1].Fallback)
	assert.Equal(t, "b.txt", after[1].Chunk.Source())

	// Sequence numbers continue after reopening.
	n, err = reopened.Append(ctx, append(entries(), domain.Entry{Chunk: domain.Chunk{ID: "c", Content: "gamma"}, Vector: []float32{1, 0}}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	res, err := reopened.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, "a", res[0].Chunk.ID)
	assert.Equal(t, "c", res[1].Chunk.ID)
}

func TestStorage_InvalidFileIsTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a bolt database"), 0o600))

	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	count, _ := s.Count(ctx)
	assert.Equal(t, 0, count)

	_, err = s.Append(ctx, entries())
	require.NoError(t, err)
	moved, err := filepath.Glob(path + ".invalid-*")
	require.NoError(t, err)
	assert.Len(t, moved, 1)
}

func TestStorage_Drop(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append(ctx, entries())
	require.NoError(t, err)
	require.NoError(t, s.Drop(ctx))
	require.NoError(t, s.Drop(ctx))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	res, err := s.Search(ctx, []float32{1, 0}, 4)
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = s.Append(ctx, entries()[:1])
	require.NoError(t, err)
	count, _ := s.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)
	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
