package mcpserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memoerrors "github.com/memoindex/memosearch/internal/errors"
	"github.com/memoindex/memosearch/internal/index"
	"github.com/memoindex/memosearch/internal/ingest"
	"github.com/memoindex/memosearch/internal/memo"
	"github.com/memoindex/memosearch/internal/search"
	"github.com/memoindex/memosearch/internal/store"
)

type fakeSource struct{}

func (fakeSource) ListAll(ctx context.Context, creator string) ([]*memo.Memo, error) {
	return nil, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedTextBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0, 0}
	}
	return out, nil
}

func (fakeEmbedder) EmbedImageBatch(ctx context.Context, payloads []string) ([][]float32, error) {
	out := make([][]float32, len(payloads))
	for i, p := range payloads {
		out[i] = []float32{float32(len(p)), 0, 1, 0}
	}
	return out, nil
}

func (fakeEmbedder) TextDimensions() int    { return 4 }
func (fakeEmbedder) ImageDimensions() int   { return 4 }
func (fakeEmbedder) TextModelName() string  { return "test-text-model" }
func (fakeEmbedder) ImageModelName() string { return "test-image-model" }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	baseDir := t.TempDir()
	vectors := store.NewHNSWVectorStore(baseDir)
	bm25, err := store.NewBleveBM25Index("")
	require.NoError(t, err)
	manager, err := index.NewManager(baseDir, vectors, bm25, fakeEmbedder{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	registry := search.NewRegistry(nil)
	search.RegisterDefaults(registry)

	pipeline := ingest.New(manager, fakeSource{}, memo.BuildConfig{}, nil, index.NewRebuildRegistry(), nil)

	return New(registry, manager, pipeline, nil)
}

func TestSearchHandler_RejectsEmptyQuery(t *testing.T) {
	s := newTestServer(t)

	_, _, err := s.searchHandler(t.Context(), nil, SearchInput{})

	require.Error(t, err)
	assert.Equal(t, memoerrors.ErrCodeInvalidParam, memoerrors.GetCode(err))
}

func TestSearchHandler_DefaultsModeAndTopK(t *testing.T) {
	s := newTestServer(t)
	docs, err := memo.Build(t.Context(), &memo.Memo{Name: "memos/A", Content: "quarterly budget review", Creator: "users/1"}, memo.BuildConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.idx.Upsert(t.Context(), "memos/A", docs))

	_, out, err := s.searchHandler(t.Context(), nil, SearchInput{Query: "budget"})

	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "memos/A", out.Results[0].MemoUID)
}

func TestSearchHandler_UnknownModePropagatesError(t *testing.T) {
	s := newTestServer(t)

	_, _, err := s.searchHandler(t.Context(), nil, SearchInput{Query: "hello", Mode: "not-a-strategy"})

	require.Error(t, err)
	assert.Equal(t, memoerrors.ErrCodeUnknownRetriever, memoerrors.GetCode(err))
}

func TestIngestHandler_RejectsEmptyCreator(t *testing.T) {
	s := newTestServer(t)

	_, _, err := s.ingestHandler(t.Context(), nil, IngestInput{})

	require.Error(t, err)
	assert.Equal(t, memoerrors.ErrCodeInvalidParam, memoerrors.GetCode(err))
}

func TestIngestHandler_StartsBackgroundRebuild(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.ingestHandler(t.Context(), nil, IngestInput{Creator: "users/1"})

	require.NoError(t, err)
	assert.True(t, out.Started)
	assert.Equal(t, "users/1", out.Creator)
}

func TestStatusHandler_ReportsEmptyIndex(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.statusHandler(t.Context(), nil, struct{}{})

	require.NoError(t, err)
	assert.Equal(t, 0, out.TotalMemos)
	assert.False(t, out.BM25Ready)
}
