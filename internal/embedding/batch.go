package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"docrag/internal/domain"
)

// BatchFunc embeds one group of texts and returns one vector per text.
type BatchFunc func(ctx context.Context, batch []string) ([][]float32, error)

// Batch splits texts into groups of at most size and runs fn on up to workers
// groups concurrently. The result keeps the input order. The first failing
// group cancels the others and its error is returned.
func Batch(ctx context.Context, texts []string, size, workers int, fn BatchFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if size <= 0 {
		size = len(texts)
	}
	if workers <= 0 {
		workers = 1
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		g.Go(func() error {
			vecs, err := fn(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("%w: got %d vectors for %d inputs", domain.ErrMalformedResponse, len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
