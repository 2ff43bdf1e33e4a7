package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memoerrors "github.com/memoindex/memosearch/internal/errors"
	"github.com/memoindex/memosearch/internal/index"
	"github.com/memoindex/memosearch/internal/memo"
)

type fakeIndexer struct {
	upserted     []string
	deleted      []string
	bm25Rebuilds int
	upsertErr    error
}

func (f *fakeIndexer) Upsert(ctx context.Context, memoUID string, docs *memo.Docs) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, memoUID)
	return nil
}

func (f *fakeIndexer) RebuildBM25(ctx context.Context) error {
	f.bm25Rebuilds++
	return nil
}

func (f *fakeIndexer) Delete(ctx context.Context, memoUID string) (int, int, error) {
	f.deleted = append(f.deleted, memoUID)
	return 1, 0, nil
}

type fakeSource struct {
	memos  []*memo.Memo
	listErr error
}

func (f *fakeSource) ListAll(ctx context.Context, creator string) ([]*memo.Memo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.memos, nil
}

func TestPipeline_IngestOne_UpsertsBuiltDocs(t *testing.T) {
	indexer := &fakeIndexer{}
	p := New(indexer, &fakeSource{}, memo.BuildConfig{}, nil, nil, nil)

	err := p.IngestOne(context.Background(), &memo.Memo{Name: "memos/A", Content: "hello", Creator: "users/1"})

	require.NoError(t, err)
	assert.Equal(t, []string{"memos/A"}, indexer.upserted)
}

func TestPipeline_IngestOne_RejectsMemoWithoutName(t *testing.T) {
	p := New(&fakeIndexer{}, &fakeSource{}, memo.BuildConfig{}, nil, nil, nil)

	err := p.IngestOne(context.Background(), &memo.Memo{Content: "no name"})

	require.Error(t, err)
	assert.Equal(t, memoerrors.ErrCodeInvalidParam, memoerrors.GetCode(err))
}

func TestPipeline_DeleteOne_DelegatesToIndexer(t *testing.T) {
	indexer := &fakeIndexer{}
	p := New(indexer, &fakeSource{}, memo.BuildConfig{}, nil, nil, nil)

	textDeleted, imageDeleted, err := p.DeleteOne(context.Background(), "memos/A")

	require.NoError(t, err)
	assert.Equal(t, 1, textDeleted)
	assert.Equal(t, 0, imageDeleted)
	assert.Equal(t, []string{"memos/A"}, indexer.deleted)
}

func TestPipeline_RebuildCreator_IngestsEveryFetchedMemo(t *testing.T) {
	indexer := &fakeIndexer{}
	src := &fakeSource{memos: []*memo.Memo{
		{Name: "memos/A", Content: "a", Creator: "users/1"},
		{Name: "memos/B", Content: "b", Creator: "users/1"},
	}}
	p := New(indexer, src, memo.BuildConfig{}, nil, index.NewRebuildRegistry(), nil)

	require.NoError(t, p.RebuildCreator(context.Background(), "users/1"))

	require.Eventually(t, func() bool {
		status, ok := p.RebuildStatus("users/1")
		return ok && status.State == index.RebuildCompleted
	}, 2*time.Second, 10*time.Millisecond)

	status, _ := p.RebuildStatus("users/1")
	assert.Equal(t, 2, status.MemosProcessed)
	assert.Equal(t, 0, status.MemosFailed)
	assert.ElementsMatch(t, []string{"memos/A", "memos/B"}, indexer.upserted)

	// The keyword corpus is refreshed once, after the per-memo loop, so
	// bm25* strategies see the rebuilt content without waiting for a
	// lazy query-time rebuild.
	assert.Equal(t, 1, indexer.bm25Rebuilds)
}

func TestPipeline_RebuildCreator_RejectsConcurrentRebuild(t *testing.T) {
	src := &fakeSource{memos: []*memo.Memo{{Name: "memos/A", Content: "a"}}}
	p := New(&fakeIndexer{}, src, memo.BuildConfig{}, nil, index.NewRebuildRegistry(), nil)

	require.NoError(t, p.RebuildCreator(context.Background(), "users/1"))
	err := p.RebuildCreator(context.Background(), "users/1")

	require.Error(t, err)
	assert.Equal(t, memoerrors.ErrCodeRebuildInProgress, memoerrors.GetCode(err))
}

func TestPipeline_RebuildCreator_CountsPerMemoFailuresWithoutAborting(t *testing.T) {
	indexer := &fakeIndexer{upsertErr: errors.New("embed failed")}
	src := &fakeSource{memos: []*memo.Memo{
		{Name: "memos/A", Content: "a"},
		{Name: "memos/B", Content: "b"},
	}}
	p := New(indexer, src, memo.BuildConfig{}, nil, index.NewRebuildRegistry(), nil)

	require.NoError(t, p.RebuildCreator(context.Background(), "users/1"))

	require.Eventually(t, func() bool {
		status, ok := p.RebuildStatus("users/1")
		return ok && status.State == index.RebuildCompleted
	}, 2*time.Second, 10*time.Millisecond)

	status, _ := p.RebuildStatus("users/1")
	assert.Equal(t, 2, status.MemosFailed)
}

func TestPipeline_RebuildCreator_SourceFetchFailureMarksFailed(t *testing.T) {
	src := &fakeSource{listErr: errors.New("upstream unreachable")}
	p := New(&fakeIndexer{}, src, memo.BuildConfig{}, nil, index.NewRebuildRegistry(), nil)

	require.NoError(t, p.RebuildCreator(context.Background(), "users/1"))

	require.Eventually(t, func() bool {
		status, ok := p.RebuildStatus("users/1")
		return ok && status.State == index.RebuildFailed
	}, 2*time.Second, 10*time.Millisecond)
}
