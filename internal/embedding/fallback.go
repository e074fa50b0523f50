package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"

	"docrag/internal/domain"
)

// DefaultFallbackDimension matches the small sentence-embedding models the
// local providers usually run.
const DefaultFallbackDimension = 384

// FallbackConfig configures WithFallback.
type FallbackConfig struct {
	// Dimension of the placeholder vectors. When 0 the primary's dimension is
	// used, or DefaultFallbackDimension if that is unknown.
	Dimension int
	Logger    *slog.Logger
	// OnFallback is called with the number of placeholder vectors produced.
	OnFallback func(n int)
}

// FallbackProvider wraps a provider whose model may fail to load. After the
// first ErrModelLoad it stays degraded and answers with deterministic
// pseudo-random unit vectors, tagged KindFallback, so indexing can continue.
// Other errors are passed through.
type FallbackProvider struct {
	primary    Provider
	dimension  int
	logger     *slog.Logger
	onFallback func(n int)
	degraded   atomic.Bool
}

func WithFallback(primary Provider, cfg FallbackConfig) *FallbackProvider {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = primary.Dimension()
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultFallbackDimension
	}
	return &FallbackProvider{
		primary:    primary,
		dimension:  cfg.Dimension,
		logger:     cfg.Logger,
		onFallback: cfg.OnFallback,
	}
}

func (p *FallbackProvider) Name() string { return p.primary.Name() }

func (p *FallbackProvider) Unwrap() Provider { return p.primary }

// FallbackUsed reports whether placeholder vectors are being produced.
func (p *FallbackProvider) FallbackUsed() bool { return p.degraded.Load() }

func (p *FallbackProvider) Dimension() int {
	if p.degraded.Load() {
		return p.dimension
	}
	if d := p.primary.Dimension(); d > 0 {
		return d
	}
	return p.dimension
}

func (p *FallbackProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embs, err := p.EmbedBatchTagged(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embs[0].Vector, nil
}

func (p *FallbackProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embs, err := p.EmbedBatchTagged(ctx, texts)
	if err != nil {
		return nil, err
	}
	return vectors(embs), nil
}

func (p *FallbackProvider) EmbedBatchTagged(ctx context.Context, texts []string) ([]Embedding, error) {
	if !p.degraded.Load() {
		embs, err := EmbedTagged(ctx, p.primary, texts)
		if err == nil {
			return embs, nil
		}
		if !errors.Is(err, domain.ErrModelLoad) {
			return nil, err
		}
		if p.degraded.CompareAndSwap(false, true) {
			p.logger.Warn("embedding model unavailable, using placeholder vectors",
				"provider", p.primary.Name(), "dimension", p.dimension, "error", err)
		}
	}
	out := make([]Embedding, len(texts))
	for i, t := range texts {
		out[i] = Embedding{Vector: PlaceholderVector(t, p.dimension), Kind: KindFallback}
	}
	if p.onFallback != nil {
		p.onFallback(len(out))
	}
	return out, nil
}

// PlaceholderVector returns a unit vector seeded by the text, so equal texts
// still map to equal vectors.
func PlaceholderVector(text string, dimension int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	vec := make([]float32, dimension)
	var norm float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}
