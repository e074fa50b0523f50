package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider keeps the most recently embedded texts in an LRU cache.
// Providers are deterministic, so a cached vector is always valid.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, Embedding]
}

func WithCache(inner Provider, size int) (*CachedProvider, error) {
	cache, err := lru.New[string, Embedding](size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

func (c *CachedProvider) Name() string { return c.inner.Name() }
func (c *CachedProvider) Dimension() int { return c.inner.Dimension() }
func (c *CachedProvider) Unwrap() Provider { return c.inner }

// Len returns the number of cached vectors.
func (c *CachedProvider) Len() int { return c.cache.Len() }

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embs, err := c.EmbedBatchTagged(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embs[0].Vector, nil
}

func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embs, err := c.EmbedBatchTagged(ctx, texts)
	if err != nil {
		return nil, err
	}
	return vectors(embs), nil
}

func (c *CachedProvider) EmbedBatchTagged(ctx context.Context, texts []string) ([]Embedding, error) {
	out := make([]Embedding, len(texts))
	var (
		missing []string
		slots   = map[string][]int{}
	)
	for i, t := range texts {
		if e, ok := c.cache.Get(t); ok {
			out[i] = e
			continue
		}
		if _, seen := slots[t]; !seen {
			missing = append(missing, t)
		}
		slots[t] = append(slots[t], i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	embs, err := EmbedTagged(ctx, c.inner, missing)
	if err != nil {
		return nil, err
	}
	for j, t := range missing {
		c.cache.Add(t, embs[j])
		for _, i := range slots[t] {
			out[i] = embs[j]
		}
	}
	return out, nil
}
