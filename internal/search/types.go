// Package search implements the Retriever Registry and Retrieval
// Strategies: a named catalog of retrieval strategies
// over the Index Manager's stores, fused and post-processed into ranked,
// deduplicated results.
package search

import (
	"context"
	"sort"
)

// Query is the uniform request every strategy accepts.
type Query struct {
	Text     string
	TopK     int
	MinScore float64
	Filters  map[string]string
}

// Result is one ranked hit, uniform across strategies.
type Result struct {
	NodeID   string
	MemoUID  string
	Score    float64
	Content  string
	Metadata map[string]string
	Source   string
}

// Retriever is the common interface every strategy implements.
type Retriever interface {
	Retrieve(ctx context.Context, q Query) ([]Result, error)
}

// matchesFilters reports whether metadata matches every (k, v) pair in
// filters: absent keys count as non-matching.
func matchesFilters(metadata map[string]string, filters map[string]string) bool {
	for k, v := range filters {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// applyFilters drops results that don't match every filter key.
func applyFilters(results []Result, filters map[string]string) []Result {
	if len(filters) == 0 {
		return results
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if matchesFilters(r.Metadata, filters) {
			out = append(out, r)
		}
	}
	return out
}

// applyMinScore drops results scoring below minScore.
func applyMinScore(results []Result, minScore float64) []Result {
	if minScore <= 0 {
		return results
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out
}

// dedupByMemo keeps the highest-scoring result per memo_uid, reordered by
// score descending.
func dedupByMemo(results []Result) []Result {
	best := make(map[string]Result, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		cur, ok := best[r.MemoUID]
		if !ok {
			order = append(order, r.MemoUID)
			best[r.MemoUID] = r
			continue
		}
		if r.Score > cur.Score {
			best[r.MemoUID] = r
		}
	}
	out := make([]Result, 0, len(order))
	for _, uid := range order {
		out = append(out, best[uid])
	}
	sortByScoreDesc(out)
	return out
}

// sortByScoreDesc sorts results by score descending, stable so ties
// preserve their original relative order.
func sortByScoreDesc(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// truncate returns at most topK results.
func truncate(results []Result, topK int) []Result {
	if topK <= 0 || topK >= len(results) {
		return results
	}
	return results[:topK]
}

// postProcess runs the common pipeline every strategy applies unless noted
// otherwise: filter,
// min-score drop, dedup-by-memo, truncate.
func postProcess(results []Result, q Query) []Result {
	results = applyFilters(results, q.Filters)
	results = applyMinScore(results, q.MinScore)
	results = dedupByMemo(results)
	return truncate(results, q.TopK)
}

// resultFromVector converts a store.VectorRecord-shaped hit into a Result.
// Defined here (not in store) to keep store free of the search package's
// Result type.
func resultFromVector(nodeID string, score float64, text string, metadata map[string]string, source string) Result {
	return Result{
		NodeID:   nodeID,
		MemoUID:  metadata["memo_uid"],
		Score:    score,
		Content:  text,
		Metadata: metadata,
		Source:   source,
	}
}
