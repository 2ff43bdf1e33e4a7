package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoreOf(t *testing.T, results []Result, memoUID string) float64 {
	t.Helper()
	for _, r := range results {
		if r.MemoUID == memoUID {
			return r.Score
		}
	}
	require.Fail(t, "memo not found in fused results", memoUID)
	return 0
}

func TestRRFFuse_OverlappingLists(t *testing.T) {
	listA := weightedList{
		weight: 1.0,
		results: []Result{
			{MemoUID: "X"},
			{MemoUID: "Y"},
			{MemoUID: "Z"},
		},
	}
	listB := weightedList{
		weight: 1.0,
		results: []Result{
			{MemoUID: "Y"},
			{MemoUID: "X"},
			{MemoUID: "W"},
		},
	}

	fused := rrfFuse(60, listA, listB)

	require.Len(t, fused, 4)
	assert.InDelta(t, 1.0/61+1.0/62, scoreOf(t, fused, "X"), 1e-12)
	assert.InDelta(t, 1.0/62+1.0/61, scoreOf(t, fused, "Y"), 1e-12)
	assert.InDelta(t, 1.0/63, scoreOf(t, fused, "Z"), 1e-12)
	assert.InDelta(t, 1.0/63, scoreOf(t, fused, "W"), 1e-12)

	// X and Y tie; stability preserves A's X-before-Y order, and both
	// outrank Z/W.
	assert.Equal(t, "X", fused[0].MemoUID)
	assert.Equal(t, "Y", fused[1].MemoUID)
}

func TestRRFFuse_DefaultsConstantWhenZero(t *testing.T) {
	listA := weightedList{weight: 1.0, results: []Result{{MemoUID: "A"}}}

	fused := rrfFuse(0, listA)

	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/(DefaultRRFConstant+1), fused[0].Score, 1e-12)
}

func TestMinMaxNormalize_SpreadsAcrossZeroOne(t *testing.T) {
	in := []Result{{Score: 10}, {Score: 20}, {Score: 30}}

	out := minMaxNormalize(in)

	assert.InDelta(t, 0.0, out[0].Score, 1e-9)
	assert.InDelta(t, 0.5, out[1].Score, 1e-9)
	assert.InDelta(t, 1.0, out[2].Score, 1e-9)
}

func TestMinMaxNormalize_AllEqualScoresBecomeOne(t *testing.T) {
	in := []Result{{Score: 5}, {Score: 5}, {Score: 5}}

	out := minMaxNormalize(in)

	for _, r := range out {
		assert.Equal(t, 1.0, r.Score)
	}
}

func TestAlphaCombine_BlendsByWeight(t *testing.T) {
	vector := []Result{{MemoUID: "A", Score: 0.8}}
	bm25 := []Result{{MemoUID: "A", Score: 0.4}}

	combined := alphaCombine(vector, bm25, 0.7)

	require.Len(t, combined, 1)
	assert.InDelta(t, 0.7*0.8+0.3*0.4, combined[0].Score, 1e-9)
}

func TestAlphaCombine_MemoInOnlyOneList(t *testing.T) {
	vector := []Result{{MemoUID: "A", Score: 1.0}}
	bm25 := []Result{{MemoUID: "B", Score: 1.0}}

	combined := alphaCombine(vector, bm25, 0.5)

	require.Len(t, combined, 2)
	assert.InDelta(t, 0.5, scoreOf(t, combined, "A"), 1e-9)
	assert.InDelta(t, 0.5, scoreOf(t, combined, "B"), 1e-9)
}

func TestComputeAdaptiveAlpha_ShortQuery(t *testing.T) {
	assert.InDelta(t, 0.3, computeAdaptiveAlpha("bug"), 1e-9)
}

func TestComputeAdaptiveAlpha_LongQuery(t *testing.T) {
	query := "explain how the scheduler coordinates background index updates across creators"
	assert.InDelta(t, 0.65, computeAdaptiveAlpha(query), 1e-9)
}

func TestComputeAdaptiveAlpha_QuotedPhrase(t *testing.T) {
	assert.InDelta(t, 0.2, computeAdaptiveAlpha(`"exact phrase"`), 1e-9)
}

func TestComputeAdaptiveAlpha_QuoteTakesPriorityOverTokenCount(t *testing.T) {
	// A long quoted query would, absent the quote short-circuit, also
	// trigger the >=8-token +0.15 adjustment; the quote check must win.
	query := `"a b c d e f g h"`
	assert.InDelta(t, 0.2, computeAdaptiveAlpha(query), 1e-9)
}

func TestComputeAdaptiveAlpha_ClampsToBounds(t *testing.T) {
	assert.GreaterOrEqual(t, computeAdaptiveAlpha("x"), 0.1)
	assert.LessOrEqual(t, computeAdaptiveAlpha("one two three four five six seven eight nine"), 0.9)
}

func TestComputeAdaptiveAlpha_SpecialCharsPenalty(t *testing.T) {
	alpha := computeAdaptiveAlpha("func(a, b) {}")
	assert.Less(t, alpha, 0.5)
}

func TestComputeAdaptiveAlpha_ExportedWrapperMatchesInternal(t *testing.T) {
	assert.Equal(t, computeAdaptiveAlpha("bug"), ComputeAdaptiveAlpha("bug"))
}
