package vectorstore

import (
	"context"

	"docrag/internal/domain"
)

// Storage persists entries and supports similarity search. Implementations
// rank by cosine similarity, best first, with ties broken by insertion
// order.
type Storage interface {
	// Dimension returns 0 until the first entry fixes it.
	Dimension(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
	// Append stores entries whose chunk IDs are not known yet and returns how
	// many were added. Entries are durable when Append returns.
	Append(ctx context.Context, entries []domain.Entry) (int, error)
	Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error)
	// Drop removes all data. Dropping twice is not an error.
	Drop(ctx context.Context) error
	Close() error
}
