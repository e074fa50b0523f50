// Package embedding defines the embedding provider contract and the wrappers
// composed around concrete providers: batching, fallback vectors, retries and
// caching.
package embedding

import "context"

// Provider converts free text into fixed-length vectors. Vectors are
// deterministic for the same input and model version, and every vector of
// one provider instance has the same dimension.
type Provider interface {
	Name() string
	// Dimension returns 0 while the size is not known yet (remote models
	// learn it from the first response).
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Kind tells which path produced a vector.
type Kind int

const (
	KindModel Kind = iota
	KindFallback
)

func (k Kind) String() string {
	if k == KindFallback {
		return "fallback"
	}
	return "model"
}

// Embedding is a vector tagged with the path that produced it.
type Embedding struct {
	Vector []float32
	Kind   Kind
}

// TaggedProvider is implemented by providers and wrappers that know whether a
// vector is a real model output.
type TaggedProvider interface {
	Provider
	EmbedBatchTagged(ctx context.Context, texts []string) ([]Embedding, error)
}

// EmbedTagged embeds texts through p. Providers that cannot degrade tag
// every vector KindModel.
func EmbedTagged(ctx context.Context, p Provider, texts []string) ([]Embedding, error) {
	if tp, ok := p.(TaggedProvider); ok {
		return tp.EmbedBatchTagged(ctx, texts)
	}
	vecs, err := p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return tag(vecs, KindModel), nil
}

// Degraded reports whether p, or any provider it wraps, has switched to
// fallback vectors.
func Degraded(p Provider) bool {
	for p != nil {
		if f, ok := p.(interface{ FallbackUsed() bool }); ok && f.FallbackUsed() {
			return true
		}
		u, ok := p.(interface{ Unwrap() Provider })
		if !ok {
			return false
		}
		p = u.Unwrap()
	}
	return false
}

func tag(vecs [][]float32, kind Kind) []Embedding {
	out := make([]Embedding, len(vecs))
	for i, v := range vecs {
		out[i] = Embedding{Vector: v, Kind: kind}
	}
	return out
}

func vectors(embs []Embedding) [][]float32 {
	out := make([][]float32, len(embs))
	for i, e := range embs {
		out[i] = e.Vector
	}
	return out
}
