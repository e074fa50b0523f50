// Package ollama embeds text through a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"docrag/internal/domain"
	"docrag/internal/embedding"
)

type Config struct {
	Host      string
	Model     string
	Timeout   time.Duration
	BatchSize int
}

type Client struct {
	host       string
	model      string
	batchSize  int
	httpClient *http.Client

	mu        sync.RWMutex
	dimension int
}

func NewClient(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "all-minilm"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Client{
		host:       strings.TrimRight(cfg.Host, "/"),
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return "ollama" }

func (c *Client) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// Embed returns the embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends the texts sequentially in groups; a local server gains
// nothing from concurrent requests.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return embedding.Batch(ctx, texts, c.batchSize, 1, c.embed)
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *Client) embed(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: batch})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.TransportError(ctx, "ollama embed", err)
		}
		// Nothing listening means there is no model to load.
		return nil, fmt.Errorf("%w: ollama at %s unreachable: %v", domain.ErrModelLoad, c.host, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.TransportError(ctx, "ollama embed", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: ollama model %q: %s", domain.ErrModelLoad, c.model, strings.TrimSpace(string(payload)))
	case resp.StatusCode != http.StatusOK:
		return nil, domain.StatusError("ollama embed", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var result embedResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("%w: decode embed response: %v", domain.ErrMalformedResponse, err)
	}
	if len(result.Embeddings) != len(batch) {
		return nil, fmt.Errorf("%w: ollama returned %d embeddings for %d inputs", domain.ErrMalformedResponse, len(result.Embeddings), len(batch))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range result.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: ollama returned an empty embedding", domain.ErrMalformedResponse)
		}
		if c.dimension == 0 {
			c.dimension = len(v)
		} else if len(v) != c.dimension {
			return nil, fmt.Errorf("%w: ollama embedding has %d dimensions, want %d", domain.ErrDimensionMismatch, len(v), c.dimension)
		}
	}
	return result.Embeddings, nil
}

// IsHealthy checks if Ollama is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
