// Package store holds the vector store adapter and the BM25 index: the
// two persistence layers the index manager composes over.
package store

import (
	"context"
	"fmt"
)

// VectorRecord is one node returned from a vector collection query or scan:
// its score (the provider's native similarity, higher-is-better), the text
// it was embedded from, and the metadata carried since build time.
type VectorRecord struct {
	NodeID   string
	Score    float32
	Text     string
	Metadata map[string]string
}

// Scanner iterates every record in a collection, for BM25 corpus rebuilds
// and manifest repair.
type Scanner interface {
	Next() bool
	Record() VectorRecord
	Err() error
	Close() error
}

// Collection is a persistent, named vector collection:
// upsert/delete/query/scan over vectors of one fixed dimensionality.
type Collection interface {
	Name() string
	Dimensions() int
	Upsert(ctx context.Context, nodeID string, vector []float32, text string, metadata map[string]string) error
	Delete(ctx context.Context, nodeID string) error
	Query(ctx context.Context, vector []float32, k int) ([]VectorRecord, error)
	Scan(ctx context.Context) (Scanner, error)
	Count() int
	Close() error
}

// VectorStoreConfig configures a single Collection.
type VectorStoreConfig struct {
	Dimensions int
	Metric     string // "cos" or "l2"
	M          int
	EfSearch   int
}

// VectorStore owns the text and image collections, deriving a collection
// name from the sanitized embedding-model identifier so vectors of
// different dimensionalities can never be queried against one another.
type VectorStore interface {
	// Collection returns (creating on first use) the collection for the
	// given kind ("text" or "image") and embedding-model identifier.
	Collection(ctx context.Context, kind, modelIdentifier string, dimensions int) (Collection, error)
	Close() error
}

// ErrDimensionMismatch is returned when a vector's length doesn't match a
// collection's configured dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// BM25Node is one unit of text handed to the BM25 Index's Build, carrying
// the same node_id/metadata the corresponding vector record carries so
// results from both stores can be correlated by the Index Manager.
type BM25Node struct {
	NodeID   string
	Text     string
	Metadata map[string]string
}

// BM25Record is one BM25 query result.
type BM25Record struct {
	NodeID       string
	Score        float64
	Text         string
	Metadata     map[string]string
	MatchedTerms []string
}

// BM25Index is the keyword index. Build replaces the
// whole corpus; there is no incremental update, so callers rebuild from a
// text-store scan when the index goes stale.
type BM25Index interface {
	Build(ctx context.Context, nodes []BM25Node) error
	Query(ctx context.Context, text string, k int) ([]BM25Record, error)
	IsReady() bool
	Close() error
}

// sanitizeCollectionName derives a filesystem- and identifier-safe
// collection name from an embedding-model identifier, so vectors from
// different models land in different collections.
func sanitizeCollectionName(modelIdentifier string) string {
	out := make([]rune, 0, len(modelIdentifier))
	for _, r := range modelIdentifier {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'a')
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "default"
	}
	return string(out)
}
