package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
	"docrag/internal/vectorstore/memory"
)

// fakeQdrant implements the handful of REST endpoints the client uses.
type fakeQdrant struct {
	mu      sync.Mutex
	size    int
	points  map[string]map[string]any
	vectors map[string][]float32
	order   []string
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/collections/docs")
	write := func(v any) { _ = json.NewEncoder(w).Encode(map[string]any{"result": v, "status": "ok"}) }
	exists := f.points != nil

	switch {
	case r.Method == http.MethodPut && path == "":
		var body struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Vectors.Distance != "Cosine" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.size = body.Vectors.Size
		f.points = map[string]map[string]any{}
		f.vectors = map[string][]float32{}
		write(true)
	case !exists:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection docs doesn't exist!"}}`))
	case r.Method == http.MethodGet && path == "":
		write(map[string]any{"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size}}}})
	case r.Method == http.MethodDelete && path == "":
		f.points, f.vectors, f.order = nil, nil, nil
		write(true)
	case r.Method == http.MethodPost && path == "/points/count":
		write(map[string]any{"count": len(f.points)})
	case r.Method == http.MethodPost && path == "/points":
		var body struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var found []map[string]any
		for _, id := range body.IDs {
			if _, ok := f.points[id]; ok {
				found = append(found, map[string]any{"id": id})
			}
		}
		write(found)
	case r.Method == http.MethodPut && path == "/points":
		if r.URL.Query().Get("wait") != "true" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var body struct {
			Points []struct {
				ID      string         `json:"id"`
				Vector  []float32      `json:"vector"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			if _, ok := f.points[p.ID]; !ok {
				f.order = append(f.order, p.ID)
			}
			f.points[p.ID] = p.Payload
			f.vectors[p.ID] = p.Vector
		}
		write(map[string]any{"status": "completed"})
	case r.Method == http.MethodPost && path == "/points/search":
		var body struct {
			Vector []float32 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		// Return hits in reverse insertion order so the client has to fix ties.
		var hits []map[string]any
		for i := len(f.order) - 1; i >= 0; i-- {
			id := f.order[i]
			hits = append(hits, map[string]any{"id": id, "score": memory.Cosine(f.vectors[id], body.Vector), "payload": f.points[id]})
		}
		if len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}
		write(hits)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newStorage(t *testing.T) (*Storage, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL, Collection: "docs"}), fake
}

func TestStorage_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t)

	dim, err := s.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, dim)
	res, err := s.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)

	entries := []domain.Entry{
		{Chunk: domain.Chunk{ID: "7f1c1c52-0d84-5d7c-9f43-1a0c9d3e6a01", Content: "one", Metadata: map[string]string{"source": "a.txt"}}, Vector: []float32{1, 1}},
		{Chunk: domain.Chunk{ID: "7f1c1c52-0d84-5d7c-9f43-1a0c9d3e6a02", Content: "two", Index: 1}, Vector: []float32{2, 2}, Fallback: true},
	}
	n, err := s.Append(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.Append(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	dim, _ = s.Dimension(ctx)
	assert.Equal(t, 2, dim)
	count, _ := s.Count(ctx)
	assert.Equal(t, 2, count)

	res, err = s.Search(ctx, []float32{1, 1}, 5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "one", res[0].Chunk.Content)
	assert.Equal(t, "a.txt", res[0].Chunk.Source())
	assert.Equal(t, "two", res[1].Chunk.Content)
	assert.Equal(t, 1, res[1].Chunk.Index)
	assert.True(t, res[1].Fallback)

	_, err = s.Append(ctx, []domain.Entry{{Chunk: domain.Chunk{ID: "x"}, Vector: []float32{1, 2, 3}}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	require.NoError(t, s.Drop(ctx))
	require.NoError(t, s.Drop(ctx))
	count, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStorage_ErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	s := NewStorage(Config{URL: srv.URL, Collection: "docs", APIKey: "wrong"})
	_, err := s.Count(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	srv.Close()
	_, err = s.Count(context.Background())
	assert.ErrorIs(t, err, domain.ErrNetwork)
}
