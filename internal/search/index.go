package search

import (
	"context"

	"github.com/memoindex/memosearch/internal/store"
)

// Index is the narrow subset of *index.Manager every strategy depends on,
// kept as an interface so this package doesn't import internal/index and
// create a cycle (the composition root wires a concrete *index.Manager in).
type Index interface {
	QueryText(ctx context.Context, vector []float32, k int) ([]store.VectorRecord, error)
	QueryImage(ctx context.Context, vector []float32, k int) ([]store.VectorRecord, error)
	QueryBM25(ctx context.Context, text string, k int) ([]store.BM25Record, error)
	EmbedQueryText(ctx context.Context, text string) ([]float32, error)
}
