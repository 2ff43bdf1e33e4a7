package search

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	memoerrors "github.com/memoindex/memosearch/internal/errors"
	"github.com/memoindex/memosearch/internal/store"
)

// textResults runs a text-store kNN query for q's embedded text at k and
// converts the hits to Results tagged source="text".
func textResults(ctx context.Context, idx Index, q Query, k int) ([]Result, error) {
	vec, err := idx.EmbedQueryText(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	records, err := idx.QueryText(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	return recordsToResults(records, "text"), nil
}

// imageResults runs an image-store kNN query using the text-embedded query
// vector (the image store accepts text queries in a shared-space model),
// tagged source="image".
func imageResults(ctx context.Context, idx Index, q Query, k int) ([]Result, error) {
	vec, err := idx.EmbedQueryText(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	records, err := idx.QueryImage(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	return recordsToResults(records, "image"), nil
}

// bm25Results runs a BM25 query at k, tagged source="bm25".
func bm25Results(ctx context.Context, idx Index, q Query, k int) ([]Result, error) {
	records, err := idx.QueryBM25(ctx, q.Text, k)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(records))
	for _, r := range records {
		out = append(out, Result{
			NodeID:   r.NodeID,
			MemoUID:  r.Metadata["memo_uid"],
			Score:    r.Score,
			Content:  r.Text,
			Metadata: r.Metadata,
			Source:   "bm25",
		})
	}
	return out, nil
}

// bm25ResultsDegraded is bm25Results for the fused strategies: an
// unavailable keyword index (ErrCodeBM25NotReady) yields an empty list so
// fusion degrades to the vector side alone, rather than failing the whole
// query. The pure "bm25" strategy still surfaces the error.
func bm25ResultsDegraded(ctx context.Context, idx Index, q Query, k int) ([]Result, error) {
	results, err := bm25Results(ctx, idx, q, k)
	if memoerrors.GetCode(err) == memoerrors.ErrCodeBM25NotReady {
		return nil, nil
	}
	return results, err
}

func recordsToResults(records []store.VectorRecord, source string) []Result {
	out := make([]Result, 0, len(records))
	for _, r := range records {
		out = append(out, resultFromVector(r.NodeID, float64(r.Score), r.Text, r.Metadata, source))
	}
	return out
}

// textRetriever implements the "text" strategy: kNN over the text store
// with k = 2*top_k over-fetch for post-hoc filtering.
type textRetriever struct{ idx Index }

func (s *textRetriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	results, err := textResults(ctx, s.idx, q, 2*q.TopK)
	if err != nil {
		return nil, err
	}
	return postProcess(results, q), nil
}

// imageRetriever implements the "image" strategy, analogous to "text".
type imageRetriever struct{ idx Index }

func (s *imageRetriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	results, err := imageResults(ctx, s.idx, q, 2*q.TopK)
	if err != nil {
		return nil, err
	}
	return postProcess(results, q), nil
}

// vectorRetriever implements "vector": text and image each fetched at
// top_k, concatenated, sorted by raw score, deduped, truncated. It fans
// out to the independent text/image sub-retrievers, not a third kNN path.
type vectorRetriever struct{ idx Index }

func (s *vectorRetriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	combined, err := fetchTextAndImage(ctx, s.idx, q, q.TopK, q.TopK)
	if err != nil {
		return nil, err
	}
	return postProcess(combined, q), nil
}

// hybridRetriever implements "hybrid": same concatenation as "vector" but
// fetched with filters=nil/min_score=0, with filtering applied only after
// concatenation and dedup. The ordering difference from the other fused
// strategies is deliberate legacy behavior; callers depend on it.
type hybridRetriever struct{ idx Index }

func (s *hybridRetriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	unfiltered := Query{Text: q.Text, TopK: q.TopK}
	combined, err := fetchTextAndImage(ctx, s.idx, unfiltered, q.TopK, q.TopK)
	if err != nil {
		return nil, err
	}
	// Legacy ordering: dedup BEFORE filter, the reverse of the common
	// pipeline.
	combined = dedupByMemo(combined)
	combined = applyFilters(combined, q.Filters)
	combined = applyMinScore(combined, q.MinScore)
	return truncate(combined, q.TopK), nil
}

// fetchTextAndImage runs the text and image kNN queries in parallel,
// concatenates, and sorts by raw score descending.
func fetchTextAndImage(ctx context.Context, idx Index, q Query, textK, imageK int) ([]Result, error) {
	var text, image []Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		text, err = textResults(gctx, idx, q, textK)
		return err
	})
	g.Go(func() error {
		var err error
		image, err = imageResults(gctx, idx, q, imageK)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	combined := make([]Result, 0, len(text)+len(image))
	combined = append(combined, text...)
	combined = append(combined, image...)
	sort.SliceStable(combined, func(i, j int) bool { return combined[i].Score > combined[j].Score })
	return combined, nil
}

// bm25Retriever implements "bm25": BM25 query with k = 2*top_k over-fetch
// for post-hoc filtering.
type bm25Retriever struct{ idx Index }

func (s *bm25Retriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	results, err := bm25Results(ctx, s.idx, q, 2*q.TopK)
	if err != nil {
		return nil, err
	}
	return postProcess(results, q), nil
}

// rrfRetriever implements "rrf": text-store and image-store results fused
// by Reciprocal Rank Fusion, each fetched at k = 3*top_k.
type rrfRetriever struct {
	idx                     Index
	textWeight, imageWeight float64
	k                       int
}

func (s *rrfRetriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	fetchK := 3 * q.TopK
	var text, image []Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		text, err = textResults(gctx, s.idx, withFilters(q), fetchK)
		return err
	})
	g.Go(func() error {
		var err error
		image, err = imageResults(gctx, s.idx, withFilters(q), fetchK)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	text = applyFilters(text, q.Filters)
	image = applyFilters(image, q.Filters)
	fused := rrfFuse(s.k, weightedList{results: text, weight: s.textWeight}, weightedList{results: image, weight: s.imageWeight})
	fused = applyMinScore(fused, q.MinScore)
	return truncate(fused, q.TopK), nil
}

// withFilters strips a query down to the Text/TopK a sub-fetch needs:
// the vector/BM25 stores themselves don't filter, so filters are applied
// by the caller after the fetch for rrf/weighted/bm25_vector*.
func withFilters(q Query) Query {
	return Query{Text: q.Text, TopK: q.TopK}
}

// weightedRetriever implements "weighted": text and image results, each
// min-max normalized, combined by s = w_t*s_t + w_i*s_i.
type weightedRetriever struct {
	idx                     Index
	textWeight, imageWeight float64
}

func (s *weightedRetriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	fetchK := 3 * q.TopK
	var text, image []Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		text, err = textResults(gctx, s.idx, withFilters(q), fetchK)
		return err
	})
	g.Go(func() error {
		var err error
		image, err = imageResults(gctx, s.idx, withFilters(q), fetchK)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	text = applyFilters(text, q.Filters)
	image = applyFilters(image, q.Filters)
	text = minMaxNormalize(text)
	image = minMaxNormalize(image)

	combined := weightedSum(text, s.textWeight, image, s.imageWeight)
	combined = applyMinScore(combined, q.MinScore)
	combined = dedupByMemo(combined)
	return truncate(combined, q.TopK), nil
}

// weightedSum combines two normalized lists keyed by memo_uid:
// s = wa*sa + wb*sb. A memo present in only one list is scored using 0
// for the other's contribution.
func weightedSum(a []Result, wa float64, b []Result, wb float64) []Result {
	byMemo := make(map[string]*Result)
	order := make([]string, 0, len(a)+len(b))
	add := func(list []Result, w float64) {
		for _, r := range list {
			existing, ok := byMemo[r.MemoUID]
			if !ok {
				copyResult := r
				copyResult.Score = 0
				byMemo[r.MemoUID] = &copyResult
				order = append(order, r.MemoUID)
				existing = byMemo[r.MemoUID]
			}
			existing.Score += w * r.Score
		}
	}
	add(a, wa)
	add(b, wb)
	out := make([]Result, 0, len(order))
	for _, uid := range order {
		out = append(out, *byMemo[uid])
	}
	sortByScoreDesc(out)
	return out
}

// bm25VectorRetriever implements "bm25_vector": BM25 and text-vector
// results fused by RRF with per-source weights.
type bm25VectorRetriever struct {
	idx                      Index
	bm25Weight, vectorWeight float64
	k                        int
}

func (s *bm25VectorRetriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	fetchK := 3 * q.TopK
	var bm25, vec []Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bm25, err = bm25ResultsDegraded(gctx, s.idx, withFilters(q), fetchK)
		return err
	})
	g.Go(func() error {
		var err error
		vec, err = textResults(gctx, s.idx, withFilters(q), fetchK)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	bm25 = applyFilters(bm25, q.Filters)
	vec = applyFilters(vec, q.Filters)
	fused := rrfFuse(s.k, weightedList{results: vec, weight: s.vectorWeight}, weightedList{results: bm25, weight: s.bm25Weight})
	fused = applyMinScore(fused, q.MinScore)
	return truncate(fused, q.TopK), nil
}

// bm25VectorAlphaRetriever implements "bm25_vector_alpha": BM25 and
// text-vector results, each min-max normalized, combined by
// s = alpha*s_v + (1-alpha)*s_b.
type bm25VectorAlphaRetriever struct {
	idx   Index
	alpha float64
}

func (s *bm25VectorAlphaRetriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	return retrieveAlpha(ctx, s.idx, q, s.alpha)
}

func retrieveAlpha(ctx context.Context, idx Index, q Query, alpha float64) ([]Result, error) {
	fetchK := 3 * q.TopK
	var bm25, vec []Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bm25, err = bm25ResultsDegraded(gctx, idx, withFilters(q), fetchK)
		return err
	})
	g.Go(func() error {
		var err error
		vec, err = textResults(gctx, idx, withFilters(q), fetchK)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	bm25 = applyFilters(bm25, q.Filters)
	vec = applyFilters(vec, q.Filters)
	bm25 = minMaxNormalize(bm25)
	vec = minMaxNormalize(vec)

	combined := alphaCombine(vec, bm25, alpha)
	combined = applyMinScore(combined, q.MinScore)
	combined = dedupByMemo(combined)
	return truncate(combined, q.TopK), nil
}

// adaptiveRetriever implements "adaptive": bm25_vector_alpha with alpha
// derived from the query at runtime.
type adaptiveRetriever struct{ idx Index }

func (s *adaptiveRetriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	alpha := computeAdaptiveAlpha(q.Text)
	return retrieveAlpha(ctx, s.idx, q, alpha)
}
