package memory

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"docrag/internal/domain"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   []domain.Entry
	ids       map[string]struct{}
	nextSeq   uint64
}

func NewStorage() *Storage { return &Storage{ids: make(map[string]struct{})} }

func (s *Storage) Dimension(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension, nil
}

func (s *Storage) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Contains reports whether a chunk ID is stored.
func (s *Storage) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Pending filters entries down to the ones Append would add, assigns their
// sequence numbers and validates their dimension. It does not modify s.
func (s *Storage) Pending(entries []domain.Entry) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dim := s.dimension
	seq := s.nextSeq
	seen := make(map[string]struct{}, len(entries))
	out := make([]domain.Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := s.ids[e.Chunk.ID]; ok {
			continue
		}
		if _, ok := seen[e.Chunk.ID]; ok {
			continue
		}
		if len(e.Vector) == 0 {
			return nil, fmt.Errorf("%w: empty vector for chunk %s", domain.ErrDimensionMismatch, e.Chunk.ID)
		}
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("%w: vector has %d dimensions, collection has %d", domain.ErrDimensionMismatch, len(e.Vector), dim)
		}
		seen[e.Chunk.ID] = struct{}{}
		seq++
		e.Seq = seq
		out = append(out, e)
	}
	return out, nil
}

// Insert adds entries that already carry sequence numbers, as produced by
// Pending or read back from disk.
func (s *Storage) Insert(entries []domain.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, ok := s.ids[e.Chunk.ID]; ok {
			continue
		}
		if s.dimension == 0 {
			s.dimension = len(e.Vector)
		}
		s.ids[e.Chunk.ID] = struct{}{}
		s.entries = append(s.entries, e)
		s.nextSeq = max(s.nextSeq, e.Seq)
	}
}

func (s *Storage) Append(_ context.Context, entries []domain.Entry) (int, error) {
	pending, err := s.Pending(entries)
	if err != nil {
		return 0, err
	}
	s.Insert(pending)
	return len(pending), nil
}

func (s *Storage) Search(_ context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 || len(s.entries) == 0 {
		return []domain.SearchResult{}, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d", domain.ErrDimensionMismatch, len(vector), s.dimension)
	}
	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(s.entries))
	for i := range s.entries {
		scores[i] = scored{idx: i, score: Cosine(s.entries[i].Vector, vector)}
	}
	slices.SortFunc(scores, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(s.entries[a.idx].Seq, s.entries[b.idx].Seq)
	})
	k = min(k, len(scores))
	results := make([]domain.SearchResult, 0, k)
	for _, sc := range scores[:k] {
		e := s.entries[sc.idx]
		results = append(results, domain.SearchResult{Chunk: e.Chunk, Score: sc.score, Fallback: e.Fallback})
	}
	return results, nil
}

func (s *Storage) Drop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = 0
	s.entries = nil
	s.ids = make(map[string]struct{})
	s.nextSeq = 0
	return nil
}

func (s *Storage) Close() error { return nil }

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
