package search

import "strings"

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// rrfFuse fuses any number of weighted, already-ranked lists by
// Reciprocal Rank Fusion: a document at 0-based rank r in a list with
// weight w contributes w/(k+r+1), and contributes nothing at all from a
// list it doesn't appear in. The fused Result keeps metadata/content from its
// first-seen appearance. No dedup-by-memo is applied after fusion, since
// fusion is already keyed on memo_uid.
func rrfFuse(k int, lists ...weightedList) []Result {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	fused := make(map[string]*Result)
	order := make([]string, 0)
	for _, l := range lists {
		for rank, r := range l.results {
			key := r.MemoUID
			if key == "" {
				key = r.NodeID
			}
			existing, ok := fused[key]
			if !ok {
				copyResult := r
				copyResult.Score = 0
				copyResult.Source = "rrf"
				fused[key] = &copyResult
				order = append(order, key)
				existing = fused[key]
			}
			existing.Score += l.weight / float64(k+rank+1)
		}
	}
	out := make([]Result, 0, len(order))
	for _, key := range order {
		out = append(out, *fused[key])
	}
	sortByScoreDesc(out)
	return out
}

// weightedList is one ranked input list to rrfFuse, carrying its source
// weight.
type weightedList struct {
	results []Result
	weight  float64
}

// minMaxNormalize maps a list's scores into [0, 1] in place: if every
// score is equal, all become 1.0; otherwise (s-min)/(max-min).
func minMaxNormalize(results []Result) []Result {
	if len(results) == 0 {
		return results
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	out := make([]Result, len(results))
	copy(out, results)
	if max == min {
		for i := range out {
			out[i].Score = 1.0
		}
		return out
	}
	for i := range out {
		out[i].Score = (out[i].Score - min) / (max - min)
	}
	return out
}

// alphaCombine blends two normalized lists by s = alpha*sv + (1-alpha)*sb,
// keyed by memo_uid. A memo
// present in only one list is scored using 0 for the other's contribution.
func alphaCombine(vector, bm25 []Result, alpha float64) []Result {
	byMemo := make(map[string]*Result)
	order := make([]string, 0)

	add := func(list []Result, isVector bool) {
		for _, r := range list {
			existing, ok := byMemo[r.MemoUID]
			if !ok {
				copyResult := r
				copyResult.Score = 0
				byMemo[r.MemoUID] = &copyResult
				order = append(order, r.MemoUID)
				existing = byMemo[r.MemoUID]
			}
			if isVector {
				existing.Score += alpha * r.Score
			} else {
				existing.Score += (1 - alpha) * r.Score
			}
		}
	}
	add(vector, true)
	add(bm25, false)

	out := make([]Result, 0, len(order))
	for _, uid := range order {
		out = append(out, *byMemo[uid])
	}
	sortByScoreDesc(out)
	return out
}

// ComputeAdaptiveAlpha is the exported form of computeAdaptiveAlpha, for
// callers that want the derived alpha without running a full adaptive
// retrieval.
func ComputeAdaptiveAlpha(query string) float64 {
	return computeAdaptiveAlpha(query)
}

// computeAdaptiveAlpha derives alpha from query text at request time.
// Quote detection takes priority: when the query contains a quote
// character, only the quote penalty applies and the token-count checks
// are skipped, since a quoted phrase is exact-match intent regardless of
// word count.
func computeAdaptiveAlpha(query string) float64 {
	const base = 0.5
	alpha := base

	if strings.ContainsAny(query, `"'`) {
		alpha -= 0.3
		return clampAlpha(alpha)
	}

	tokens := strings.Fields(query)
	switch {
	case len(tokens) <= 2:
		alpha -= 0.2
	case len(tokens) >= 8:
		alpha += 0.15
	}

	if strings.ContainsAny(query, "{}[]()<>=/\\|@#$%^&*`~") {
		alpha -= 0.25
	}

	return clampAlpha(alpha)
}

func clampAlpha(alpha float64) float64 {
	if alpha < 0.1 {
		return 0.1
	}
	if alpha > 0.9 {
		return 0.9
	}
	return alpha
}
