package qdrant

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"docrag/internal/domain"
)

// Storage is a minimal REST client to Qdrant.
// It uses cosine distance and creates the collection on the first Append.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.URL == "" {
		cfg.URL = "http://localhost:6333"
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Storage) Dimension(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	found, err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, &resp)
	if err != nil || !found {
		return 0, err
	}
	return resp.Result.Config.Params.Vectors.Size, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	found, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), map[string]any{"exact": true}, &resp)
	if err != nil || !found {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Append upserts the entries not stored yet. Sequence numbers continue from
// the current point count and are kept in the payload for tie ordering.
func (s *Storage) Append(ctx context.Context, entries []domain.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	dim, err := s.Dimension(ctx)
	if err != nil {
		return 0, err
	}
	want := dim
	if want == 0 {
		want = len(entries[0].Vector)
	}
	for _, e := range entries {
		if len(e.Vector) != want || want == 0 {
			return 0, fmt.Errorf("%w: vector has %d dimensions, collection has %d", domain.ErrDimensionMismatch, len(e.Vector), want)
		}
	}
	if dim == 0 {
		body := map[string]any{"vectors": map[string]any{"size": want, "distance": "Cosine"}}
		if _, err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
			return 0, err
		}
	}

	known, err := s.existing(ctx, entries)
	if err != nil {
		return 0, err
	}
	count, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	seq := uint64(count)
	points := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if _, ok := known[e.Chunk.ID]; ok {
			continue
		}
		known[e.Chunk.ID] = struct{}{}
		seq++
		points = append(points, map[string]any{
			"id":     e.Chunk.ID,
			"vector": e.Vector,
			"payload": map[string]any{
				"chunk_id": e.Chunk.ID,
				"content":  e.Chunk.Content,
				"metadata": e.Chunk.Metadata,
				"index":    e.Chunk.Index,
				"seq":      seq,
				"fallback": e.Fallback,
			},
		})
	}
	if len(points) == 0 {
		return 0, nil
	}
	found, err := s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: qdrant collection %s disappeared during upsert", domain.ErrNetwork, s.collection)
	}
	return len(points), nil
}

func (s *Storage) existing(ctx context.Context, entries []domain.Entry) (map[string]struct{}, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Chunk.ID
	}
	var resp struct {
		Result []struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	body := map[string]any{"ids": ids, "with_payload": false, "with_vector": false}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL("/points"), body, &resp); err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(resp.Result))
	for _, r := range resp.Result {
		known[r.ID] = struct{}{}
	}
	return known, nil
}

type point struct {
	Score   float64 `json:"score"`
	Payload struct {
		ChunkID  string            `json:"chunk_id"`
		Content  string            `json:"content"`
		Metadata map[string]string `json:"metadata"`
		Index    int               `json:"index"`
		Seq      uint64            `json:"seq"`
		Fallback bool              `json:"fallback"`
	} `json:"payload"`
}

func (s *Storage) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		return []domain.SearchResult{}, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []point `json:"result"`
	}
	found, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp)
	if err != nil {
		return nil, err
	}
	if !found {
		return []domain.SearchResult{}, nil
	}
	// Qdrant does not define an order among equal scores.
	slices.SortStableFunc(resp.Result, func(a, b point) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Payload.Seq, b.Payload.Seq)
	})
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.SearchResult{
			Chunk: domain.Chunk{
				ID:       r.Payload.ChunkID,
				Content:  r.Payload.Content,
				Metadata: r.Payload.Metadata,
				Index:    r.Payload.Index,
			},
			Score:    r.Score,
			Fallback: r.Payload.Fallback,
		})
	}
	return results, nil
}

// Drop deletes the collection; a missing collection is not an error.
func (s *Storage) Drop(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	return err
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// do sends a JSON request. found is false when Qdrant answers 404.
func (s *Storage) do(ctx context.Context, method, url string, body, out any) (found bool, err error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return false, fmt.Errorf("%w: qdrant request: %v", domain.ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	op := "qdrant " + method + " " + strings.TrimPrefix(url, s.url)
	resp, err := s.client.Do(req)
	if err != nil {
		return false, domain.TransportError(ctx, op, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, domain.TransportError(ctx, op, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		return false, domain.StatusError(op, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return true, fmt.Errorf("%w: %s: %v", domain.ErrMalformedResponse, op, err)
		}
	}
	return true, nil
}
