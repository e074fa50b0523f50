package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"docrag/internal/domain"
	"docrag/internal/embedding"
)

// Client is an OpenAI-compatible embeddings client implementing embedding.Provider.
// It performs a single attempt per batch; wrap it with embedding.WithRetry for retries.
type Client struct {
	baseURL   string
	apiKeyEnv string
	model     string
	batchSize int
	workers   int
	client    *http.Client
	limiter   *rate.Limiter

	mu        sync.RWMutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	BatchSize int
	Workers   int
	// RequestsPerSecond enables a client side limit when positive.
	RequestsPerSecond float64
}

// NewClient creates a new embeddings client. The API key is read from the
// environment on every request, so construction never fails for a missing key.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKeyEnv: cfg.APIKeyEnv,
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		workers:   cfg.Workers,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Dimension returns 0 until the first successful response.
func (c *Client) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in groups of BatchSize, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return embedding.Batch(ctx, texts, c.batchSize, c.workers, c.request)
}

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	// Ollama's OpenAI shim on older versions answers with a single vector.
	Embedding []float32 `json:"embedding"`
}

func (c *Client) request(ctx context.Context, batch []string) ([][]float32, error) {
	key := os.Getenv(c.apiKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrAuthentication, c.apiKeyEnv)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.TransportError(ctx, "openai embeddings", err)
		}
	}
	data, err := json.Marshal(embeddingsRequest{Input: batch, Model: c.model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.TransportError(ctx, "openai embeddings", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.TransportError(ctx, "openai embeddings", err)
	}
	if resp.StatusCode >= 300 {
		return nil, domain.StatusError("openai embeddings", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out embeddingsResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: openai embeddings: %v", domain.ErrMalformedResponse, err)
	}
	var vecs [][]float32
	switch {
	case len(out.Data) > 0:
		sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
		vecs = make([][]float32, len(out.Data))
		for i, d := range out.Data {
			vecs[i] = d.Embedding
		}
	case len(out.Embedding) > 0 && len(batch) == 1:
		vecs = [][]float32{out.Embedding}
	default:
		return nil, fmt.Errorf("%w: openai embeddings: no embedding returned", domain.ErrMalformedResponse)
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("%w: openai embeddings: got %d vectors for %d inputs", domain.ErrMalformedResponse, len(vecs), len(batch))
	}
	if err := c.observe(vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

// observe fixes the dimension on the first response and rejects any later
// vector of a different size.
func (c *Client) observe(vecs [][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%w: openai embeddings: empty vector", domain.ErrMalformedResponse)
		}
		if c.dimension == 0 {
			c.dimension = len(v)
			continue
		}
		if len(v) != c.dimension {
			return fmt.Errorf("%w: openai embeddings: got %d, want %d", domain.ErrDimensionMismatch, len(v), c.dimension)
		}
	}
	return nil
}
