// Package vectorstore holds named collections of embedded chunks and answers
// similarity queries against them.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"docrag/internal/domain"
	"docrag/internal/embedding"
	"docrag/internal/vectorstore/bolt"
)

// DefaultK is used when a search asks for zero or fewer results.
const DefaultK = 4

// IndexFile is the name of the collection file inside its directory.
const IndexFile = "index.db"

// Collection embeds chunks with one provider and keeps them in one storage
// backend. Calls are serialized.
type Collection struct {
	mu       sync.Mutex
	name     string
	dir      string
	storage  Storage
	provider embedding.Provider
	logger   *slog.Logger
}

type Option func(*Collection)

func WithLogger(l *slog.Logger) Option {
	return func(c *Collection) { c.logger = l }
}

// WithName sets the name reported by Name.
func WithName(name string) Option {
	return func(c *Collection) { c.name = name }
}

// OpenOrCreate opens the collection stored at <persistDir>/<name>. A missing
// or unreadable collection is treated as empty; the file is created on the
// first Add.
func OpenOrCreate(ctx context.Context, name, persistDir string, provider embedding.Provider, opts ...Option) (*Collection, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.TransportError(ctx, "open collection", err)
	}
	c := newCollection(provider, opts...)
	c.name = name
	c.dir = filepath.Join(persistDir, name)
	storage, err := bolt.Open(filepath.Join(c.dir, IndexFile), c.logger)
	if err != nil {
		return nil, err
	}
	c.storage = storage
	n, _ := storage.Count(ctx)
	c.logger.Info("opened collection", "collection", name, "path", c.dir, "entries", n)
	return c, nil
}

// checkName accepts only a single path element, so the collection directory
// always sits directly inside the persist directory.
func checkName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty collection name", domain.ErrConfiguration)
	case name == "." || name == "..", !filepath.IsLocal(name),
		filepath.Base(name) != name, strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: invalid collection name %q", domain.ErrConfiguration, name)
	}
	return nil
}

// New wraps an already opened storage backend.
func New(storage Storage, provider embedding.Provider, opts ...Option) *Collection {
	c := newCollection(provider, opts...)
	c.storage = storage
	if c.name == "" {
		c.name = "default"
	}
	return c
}

func newCollection(provider embedding.Provider, opts ...Option) *Collection {
	c := &Collection{provider: provider, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Collection) Name() string { return c.name }

// Degraded reports whether the provider has switched to placeholder vectors.
func (c *Collection) Degraded() bool { return embedding.Degraded(c.provider) }

func (c *Collection) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storage.Count(ctx)
}

// Add embeds the chunks and stores the ones not indexed yet. The first
// successful Add fixes the collection's dimension.
func (c *Collection) Add(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks to add", domain.ErrEmptyInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dim, err := c.storage.Dimension(ctx)
	if err != nil {
		return err
	}
	if pd := c.provider.Dimension(); dim > 0 && pd > 0 && pd != dim {
		return fmt.Errorf("%w: provider %s produces %d dimensions, collection %s has %d",
			domain.ErrDimensionMismatch, c.provider.Name(), pd, c.name, dim)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	embs, err := embedding.EmbedTagged(ctx, c.provider, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(embs) != len(chunks) {
		return fmt.Errorf("%w: got %d vectors for %d chunks", domain.ErrMalformedResponse, len(embs), len(chunks))
	}
	want := dim
	if want == 0 {
		want = len(embs[0].Vector)
	}
	entries := make([]domain.Entry, len(chunks))
	fallback := 0
	for i, e := range embs {
		if len(e.Vector) != want || want == 0 {
			return fmt.Errorf("%w: vector has %d dimensions, want %d", domain.ErrDimensionMismatch, len(e.Vector), want)
		}
		if e.Kind == embedding.KindFallback {
			fallback++
		}
		entries[i] = domain.Entry{Chunk: chunks[i], Vector: e.Vector, Fallback: e.Kind == embedding.KindFallback}
	}
	added, err := c.storage.Append(ctx, entries)
	if err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	c.logger.Info("indexed chunks", "collection", c.name, "added", added, "skipped", len(chunks)-added, "fallback", fallback)
	return nil
}

// Search returns up to k chunks ranked by cosine similarity to the query.
// An empty collection answers without embedding the query.
func (c *Collection) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = DefaultK
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.storage.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []domain.SearchResult{}, nil
	}
	dim, err := c.storage.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	embs, err := embedding.EmbedTagged(ctx, c.provider, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for one query", domain.ErrMalformedResponse, len(embs))
	}
	if len(embs[0].Vector) != dim {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, collection %s has %d",
			domain.ErrDimensionMismatch, len(embs[0].Vector), c.name, dim)
	}
	return c.storage.Search(ctx, embs[0].Vector, k)
}

// AsRetriever returns a retriever bound to this collection.
func (c *Collection) AsRetriever(k int) *Retriever {
	if k <= 0 {
		k = DefaultK
	}
	return &Retriever{collection: c, k: k}
}

// DeleteCollection removes every entry and, for persisted collections, the
// collection directory. The collection stays usable and a later Add starts
// over. Deleting a missing collection is not an error.
func (c *Collection) DeleteCollection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.storage.Drop(ctx); err != nil {
		return fmt.Errorf("delete collection %s: %w", c.name, err)
	}
	if c.dir != "" {
		if err := os.RemoveAll(c.dir); err != nil {
			return fmt.Errorf("delete collection %s: %w", c.name, err)
		}
		c.removeIfEmpty(filepath.Dir(c.dir))
	}
	c.logger.Info("deleted collection", "collection", c.name)
	return nil
}

func (c *Collection) removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Debug("could not remove persist directory", "path", dir, "error", err)
	}
}

func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storage.Close()
}
