// Package ingest implements the Ingestion Pipeline: for
// one memo, it runs the Document Builder (with concurrent caption
// generation) and hands the resulting nodes to the Index Manager; for a
// creator, it drives a background rebuild-all task tracked by
// internal/index.RebuildRegistry.
package ingest

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	memoerrors "github.com/memoindex/memosearch/internal/errors"
	"github.com/memoindex/memosearch/internal/index"
	"github.com/memoindex/memosearch/internal/memo"
)

// Indexer is the subset of *index.Manager the pipeline needs.
type Indexer interface {
	Upsert(ctx context.Context, memoUID string, docs *memo.Docs) error
	Delete(ctx context.Context, memoUID string) (int, int, error)
	RebuildBM25(ctx context.Context) error
}

// Source is the subset of *source.Client the pipeline needs.
type Source interface {
	ListAll(ctx context.Context, creator string) ([]*memo.Memo, error)
}

// Pipeline orchestrates one memo's ingest (Document Builder -> Index
// Manager.Upsert) and a creator's rebuild-all-for-user background task.
type Pipeline struct {
	log       *slog.Logger
	indexer   Indexer
	source    Source
	buildCfg  memo.BuildConfig
	captioner memo.CaptionProvider
	rebuilds  *index.RebuildRegistry
}

// New creates a Pipeline.
func New(indexer Indexer, src Source, buildCfg memo.BuildConfig, captioner memo.CaptionProvider, rebuilds *index.RebuildRegistry, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if rebuilds == nil {
		rebuilds = index.NewRebuildRegistry()
	}
	return &Pipeline{
		log:       log,
		indexer:   indexer,
		source:    src,
		buildCfg:  buildCfg,
		captioner: captioner,
		rebuilds:  rebuilds,
	}
}

// IngestOne builds and upserts a single memo: memo JSON -> Document
// Builder -> Index Manager upsert. An unparseable memo is rejected at the
// boundary; every other failure bubbles up fatal to this one memo.
func (p *Pipeline) IngestOne(ctx context.Context, m *memo.Memo) error {
	if m == nil || m.Name == "" {
		return memoerrors.NewValidationError("memo is missing name/memo_uid", nil)
	}
	docs, err := memo.Build(ctx, m, p.buildCfg, p.captioner)
	if err != nil {
		return err
	}
	if err := p.indexer.Upsert(ctx, m.Name, docs); err != nil {
		return err
	}
	p.log.Info("ingest: memo indexed", slog.String("memo_uid", m.Name))
	return nil
}

// DeleteOne removes a memo from the index.
func (p *Pipeline) DeleteOne(ctx context.Context, memoUID string) (int, int, error) {
	return p.indexer.Delete(ctx, memoUID)
}

// RebuildCreator starts a background rebuild-all task for creator: it
// fetches every memo for creator from the upstream source and ingests
// each. Per-memo failures are counted and the rebuild continues. Returns
// a state error with ErrCodeRebuildInProgress (ERR_501_REBUILD_IN_PROGRESS)
// if one is already running for creator.
func (p *Pipeline) RebuildCreator(ctx context.Context, creator string) error {
	tracker, ok := p.rebuilds.Begin(creator)
	if !ok {
		return memoerrors.NewStateError(memoerrors.ErrCodeRebuildInProgress, "a rebuild is already running for creator "+creator, nil)
	}

	// Every log line of one rebuild run shares a job id, so interleaved
	// rebuilds for different creators stay separable in the ingest log.
	jobID := uuid.NewString()
	log := p.log.With(slog.String("rebuild_job", jobID), slog.String("creator", creator))

	go func() {
		memos, err := p.source.ListAll(context.Background(), creator)
		if err != nil {
			tracker.Finish(err)
			log.Error("ingest: rebuild fetch failed", errAttrs(err)...)
			return
		}
		tracker.Start(len(memos))
		for _, m := range memos {
			if err := p.IngestOne(context.Background(), m); err != nil {
				tracker.RecordFailure()
				log.Warn("ingest: rebuild memo failed", append([]any{slog.String("memo_uid", m.Name)}, errAttrs(err)...)...)
				continue
			}
			tracker.RecordSuccess()
		}
		// The per-memo loop only wrote vectors; refresh the keyword
		// corpus once at the end so bm25* strategies see the rebuilt
		// content immediately. A failure here is logged, not fatal: the
		// next keyword query retries the rebuild lazily.
		if err := p.indexer.RebuildBM25(context.Background()); err != nil {
			log.Warn("ingest: bm25 refresh failed after rebuild", errAttrs(err)...)
		}
		tracker.Finish(nil)
		log.Info("ingest: rebuild complete", slog.Int("memos", len(memos)))
	}()

	return nil
}

// errAttrs flattens an error into slog attributes via the structured
// error formatter.
func errAttrs(err error) []any {
	m := memoerrors.FormatForLog(err)
	attrs := make([]any, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// RebuildStatus returns the current rebuild status for creator.
func (p *Pipeline) RebuildStatus(creator string) (index.RebuildStatus, bool) {
	return p.rebuilds.Status(creator)
}
