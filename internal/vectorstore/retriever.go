package vectorstore

import (
	"context"

	"docrag/internal/domain"
)

// Retriever answers queries with the top k chunks of a collection.
type Retriever struct {
	collection *Collection
	k          int
}

func (r *Retriever) K() int { return r.k }

// Retrieve returns the chunks in rank order without scores.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]domain.Chunk, error) {
	results, err := r.collection.Search(ctx, query, r.k)
	if err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, len(results))
	for i, res := range results {
		chunks[i] = res.Chunk
	}
	return chunks, nil
}

func (r *Retriever) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	return r.collection.Search(ctx, query, r.k)
}
