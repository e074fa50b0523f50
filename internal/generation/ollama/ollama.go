// Package ollama generates answers with a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docrag/internal/domain"
	"docrag/internal/generation"
)

type Config struct {
	Host    string
	Model   string
	Timeout time.Duration
}

type Client struct {
	host   string
	model  string
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{host: strings.TrimRight(cfg.Host, "/"), model: cfg.Model, client: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) Name() string { return "ollama" }

type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *Client) Generate(ctx context.Context, p generation.Prompt) (string, error) {
	reqBody, err := json.Marshal(generateRequest{Model: c.model, System: p.System, Prompt: p.User})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", domain.TransportError(ctx, "ollama generate", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.TransportError(ctx, "ollama generate", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", domain.StatusError("ollama generate", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var single generateResponse
	if err := json.Unmarshal(body, &single); err == nil {
		return strings.TrimSpace(single.Response), nil
	}
	// Servers that ignore stream:false answer with one JSON object per line.
	var out strings.Builder
	dec := json.NewDecoder(bytes.NewReader(body))
	for dec.More() {
		var part generateResponse
		if err := dec.Decode(&part); err != nil {
			return "", fmt.Errorf("%w: ollama generate: %v", domain.ErrMalformedResponse, err)
		}
		out.WriteString(part.Response)
	}
	return strings.TrimSpace(out.String()), nil
}
