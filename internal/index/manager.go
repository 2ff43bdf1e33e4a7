package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	memoerrors "github.com/memoindex/memosearch/internal/errors"
	"github.com/memoindex/memosearch/internal/memo"
	"github.com/memoindex/memosearch/internal/store"
)

const (
	kindText  = "text"
	kindImage = "image"
)

// Manager is the index manager: the single point of mutation for the
// text store, image store, BM25 index, and the manifest that ties them
// back to a memo_uid. Deletes are best-effort, inserts fail fast.
type Manager struct {
	log *slog.Logger

	vectors store.VectorStore
	bm25    store.BM25Index
	bm25Mu  sync.RWMutex
	bm25OK  bool

	// bm25RebuildMu serializes scan-and-build passes so concurrent stale
	// queries don't rebuild the corpus twice.
	bm25RebuildMu sync.Mutex

	manifest *Manifest

	textModel  string
	textDims   int
	imageModel string
	imageDims  int

	embedText  func(ctx context.Context, texts []string) ([][]float32, error)
	embedImage func(ctx context.Context, payloads []string) ([][]float32, error)

	// memoLocks stripes upserts/deletes by memo_uid; two writers must
	// never interleave on the same memo.
	memoLocksMu sync.Mutex
	memoLocks   map[string]*sync.Mutex

	baseDir string
}

// Embedder is the narrow subset of embed.Embedder the Manager needs,
// kept as an interface here so this package doesn't import internal/embed
// directly.
type Embedder interface {
	EmbedTextBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedImageBatch(ctx context.Context, payloads []string) ([][]float32, error)
	TextDimensions() int
	ImageDimensions() int
	TextModelName() string
	ImageModelName() string
}

// NewManager wires a VectorStore, BM25Index and Embedder into a Manager
// rooted at baseDir. The manifest lives at
// <baseDir>/text/memo_vector_map.json
func NewManager(baseDir string, vectors store.VectorStore, bm25 store.BM25Index, embedder Embedder, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	manifestPath := filepath.Join(baseDir, "text", "memo_vector_map.json")
	manifest, err := NewManifest(manifestPath)
	if err != nil {
		log.Warn("index: manifest load failed, starting empty", slog.String("error", err.Error()))
	}
	return &Manager{
		log:        log,
		vectors:    vectors,
		bm25:       bm25,
		manifest:   manifest,
		textModel:  embedder.TextModelName(),
		textDims:   embedder.TextDimensions(),
		imageModel: embedder.ImageModelName(),
		imageDims:  embedder.ImageDimensions(),
		embedText:  embedder.EmbedTextBatch,
		embedImage: embedder.EmbedImageBatch,
		memoLocks:  make(map[string]*sync.Mutex),
		baseDir:    baseDir,
	}, nil
}

func (m *Manager) lockFor(memoUID string) *sync.Mutex {
	m.memoLocksMu.Lock()
	defer m.memoLocksMu.Unlock()
	l, ok := m.memoLocks[memoUID]
	if !ok {
		l = &sync.Mutex{}
		m.memoLocks[memoUID] = l
	}
	return l
}

func (m *Manager) textCollection(ctx context.Context) (store.Collection, error) {
	return m.vectors.Collection(ctx, kindText, m.textModel, m.textDims)
}

func (m *Manager) imageCollection(ctx context.Context) (store.Collection, error) {
	return m.vectors.Collection(ctx, kindImage, m.imageModel, m.imageDims)
}

// Upsert replaces every node belonging to memoUID across the text store,
// image store, and manifest. Nodes must all share the same
// MemoUID; the caller is expected to have built them via memo.Build.
func (m *Manager) Upsert(ctx context.Context, memoUID string, docs *memo.Docs) error {
	if memoUID == "" {
		return memoerrors.NewValidationError("upsert requires a non-empty memo_uid", nil)
	}
	lock := m.lockFor(memoUID)
	lock.Lock()
	defer lock.Unlock()

	textColl, err := m.textCollection(ctx)
	if err != nil {
		return memoerrors.NewStoreError(memoerrors.ErrCodeStoreUpsertFailed, "open text collection", err)
	}
	imageColl, err := m.imageCollection(ctx)
	if err != nil {
		return memoerrors.NewStoreError(memoerrors.ErrCodeStoreUpsertFailed, "open image collection", err)
	}

	// Step 1: delete anything previously indexed for this memo. Per-id
	// failures are logged warnings, never fatal; availability of the new
	// content wins over strict cleanup of the old.
	if prev, ok := m.manifest.Get(memoUID); ok {
		for _, id := range prev.Text {
			if err := textColl.Delete(ctx, id); err != nil {
				m.log.Warn("index: stale text node delete failed", slog.String("memo_uid", memoUID), slog.String("node_id", id), slog.String("error", err.Error()))
			}
		}
		for _, id := range prev.Image {
			if err := imageColl.Delete(ctx, id); err != nil {
				m.log.Warn("index: stale image node delete failed", slog.String("memo_uid", memoUID), slog.String("node_id", id), slog.String("error", err.Error()))
			}
		}
	}

	// Step 2: embed and insert the new node set. Embedding failures are
	// fatal to this memo's upsert; no partial manifest is written.
	textNodes := make([]*memo.Node, 0, 1+len(docs.Attachments))
	if docs.BaseText != nil {
		textNodes = append(textNodes, docs.BaseText)
	}
	textNodes = append(textNodes, docs.Attachments...)

	textTexts := make([]string, len(textNodes))
	for i, n := range textNodes {
		textTexts[i] = n.Content
	}
	var textVecs [][]float32
	if len(textTexts) > 0 {
		textVecs, err = m.embedText(ctx, textTexts)
		if err != nil {
			return memoerrors.NewProviderError(memoerrors.ErrCodeEmbeddingFailed, "embed text nodes", err)
		}
	}
	newTextIDs := make([]string, 0, len(textNodes))
	for i, n := range textNodes {
		if err := textColl.Upsert(ctx, n.ID, textVecs[i], n.Content, n.Metadata); err != nil {
			return memoerrors.NewStoreError(memoerrors.ErrCodeStoreUpsertFailed, fmt.Sprintf("upsert text node %s", n.ID), err)
		}
		newTextIDs = append(newTextIDs, n.ID)
	}

	imagePayloads := make([]string, len(docs.Images))
	for i, n := range docs.Images {
		imagePayloads[i] = n.Content
	}
	var imageVecs [][]float32
	if len(imagePayloads) > 0 {
		imageVecs, err = m.embedImage(ctx, imagePayloads)
		if err != nil {
			return memoerrors.NewProviderError(memoerrors.ErrCodeEmbeddingFailed, "embed image nodes", err)
		}
	}
	newImageIDs := make([]string, 0, len(docs.Images))
	for i, n := range docs.Images {
		meta := cloneMeta(n.Metadata)
		meta["caption"] = n.Caption
		// The caption, not the raw payload, is what the text field
		// carries for an image node.
		if err := imageColl.Upsert(ctx, n.ID, imageVecs[i], n.Caption, meta); err != nil {
			return memoerrors.NewStoreError(memoerrors.ErrCodeStoreUpsertFailed, fmt.Sprintf("upsert image node %s", n.ID), err)
		}
		newImageIDs = append(newImageIDs, n.ID)
	}

	// Step 3-4: overwrite and persist the manifest. A write failure here
	// is fatal.
	if err := m.manifest.Set(memoUID, MemoEntry{Text: newTextIDs, Image: newImageIDs}); err != nil {
		return memoerrors.NewManifestError(memoerrors.ErrCodeManifestWriteFailed, "persist manifest", err)
	}

	// Step 5: BM25 invalidation. Mark stale here; the next keyword query
	// (or the rebuild pipeline's final refresh) rebuilds the corpus from
	// a text-store scan.
	m.bm25Mu.Lock()
	m.bm25OK = false
	m.bm25Mu.Unlock()

	m.log.Info("index: upsert complete", slog.String("memo_uid", memoUID), slog.Int("text_nodes", len(newTextIDs)), slog.Int("image_nodes", len(newImageIDs)))
	return nil
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Delete removes every node belonging to memoUID from the text store,
// image store, and manifest. Returns the count deleted from
// each store.
func (m *Manager) Delete(ctx context.Context, memoUID string) (textDeleted, imageDeleted int, err error) {
	lock := m.lockFor(memoUID)
	lock.Lock()
	defer lock.Unlock()

	entry, ok := m.manifest.Get(memoUID)
	if !ok {
		return 0, 0, nil
	}

	textColl, err := m.textCollection(ctx)
	if err != nil {
		return 0, 0, memoerrors.NewStoreError(memoerrors.ErrCodeStoreDeleteFailed, "open text collection", err)
	}
	imageColl, err := m.imageCollection(ctx)
	if err != nil {
		return 0, 0, memoerrors.NewStoreError(memoerrors.ErrCodeStoreDeleteFailed, "open image collection", err)
	}

	for _, id := range entry.Text {
		if err := textColl.Delete(ctx, id); err != nil {
			m.log.Warn("index: text node delete failed", slog.String("memo_uid", memoUID), slog.String("node_id", id), slog.String("error", err.Error()))
			continue
		}
		textDeleted++
	}
	for _, id := range entry.Image {
		if err := imageColl.Delete(ctx, id); err != nil {
			m.log.Warn("index: image node delete failed", slog.String("memo_uid", memoUID), slog.String("node_id", id), slog.String("error", err.Error()))
			continue
		}
		imageDeleted++
	}

	if _, _, err := m.manifest.Delete(memoUID); err != nil {
		return textDeleted, imageDeleted, memoerrors.NewManifestError(memoerrors.ErrCodeManifestWriteFailed, "persist manifest after delete", err)
	}

	m.bm25Mu.Lock()
	m.bm25OK = false
	m.bm25Mu.Unlock()

	return textDeleted, imageDeleted, nil
}

// Info is the result of Get: a memo's manifest entry plus node counts.
type Info struct {
	MemoUID    string `json:"memo_uid"`
	TextCount  int    `json:"text_count"`
	ImageCount int    `json:"image_count"`
}

// Get returns the manifest entry for memoUID, or nil if it isn't indexed.
func (m *Manager) Get(memoUID string) *Info {
	entry, ok := m.manifest.Get(memoUID)
	if !ok {
		return nil
	}
	return &Info{MemoUID: memoUID, TextCount: len(entry.Text), ImageCount: len(entry.Image)}
}

// Status is the index manager's process-wide status snapshot.
type Status struct {
	TotalMemos        int    `json:"total_memos"`
	TotalTextVectors   int    `json:"total_text_vectors"`
	TotalImageVectors  int    `json:"total_image_vectors"`
	TextCollection     string `json:"text_collection"`
	ImageCollection    string `json:"image_collection"`
	BaseDir            string `json:"base_dir"`
	BM25Ready          bool   `json:"bm25_ready"`
}

// Status returns totals across the manifest and both stores. The manifest's
// own text/image node counts are reported as TotalTextVectors/
// TotalImageVectors, since they reflect exactly what Upsert/Delete have
// committed; the store Collection handles are still opened so their names
// can be reported, and to surface a StoreError if either is unreachable.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	textCount, imageCount := m.manifest.Totals()
	textColl, err := m.textCollection(ctx)
	if err != nil {
		return Status{}, memoerrors.NewStoreError(memoerrors.ErrCodeStoreQueryFailed, "open text collection", err)
	}
	imageColl, err := m.imageCollection(ctx)
	if err != nil {
		return Status{}, memoerrors.NewStoreError(memoerrors.ErrCodeStoreQueryFailed, "open image collection", err)
	}
	m.bm25Mu.RLock()
	ready := m.bm25OK
	m.bm25Mu.RUnlock()
	return Status{
		TotalMemos:        m.manifest.Len(),
		TotalTextVectors:  textCount,
		TotalImageVectors: imageCount,
		TextCollection:    textColl.Name(),
		ImageCollection:   imageColl.Name(),
		BaseDir:           m.baseDir,
		BM25Ready:         ready,
	}, nil
}

// RebuildBM25 rebuilds the BM25 index from a full scan of the text store
// (base_text and attachment_text nodes only, so the keyword corpus is
// always a subset of what the text store holds). There is no incremental
// BM25 update; this is the only way the index becomes fresh again after
// an upsert marks it stale. It runs at the end of every creator rebuild
// and lazily from QueryBM25.
func (m *Manager) RebuildBM25(ctx context.Context) error {
	m.bm25RebuildMu.Lock()
	defer m.bm25RebuildMu.Unlock()

	textColl, err := m.textCollection(ctx)
	if err != nil {
		return memoerrors.NewStoreError(memoerrors.ErrCodeStoreQueryFailed, "open text collection", err)
	}
	scanner, err := textColl.Scan(ctx)
	if err != nil {
		return memoerrors.NewStoreError(memoerrors.ErrCodeStoreQueryFailed, "scan text collection", err)
	}
	defer scanner.Close()

	var nodes []store.BM25Node
	for scanner.Next() {
		rec := scanner.Record()
		nodes = append(nodes, store.BM25Node{NodeID: rec.NodeID, Text: rec.Text, Metadata: rec.Metadata})
	}
	if err := scanner.Err(); err != nil {
		return memoerrors.NewStoreError(memoerrors.ErrCodeStoreQueryFailed, "scan text collection", err)
	}

	if err := m.bm25.Build(ctx, nodes); err != nil {
		return memoerrors.NewStoreError(memoerrors.ErrCodeStoreUpsertFailed, "rebuild bm25 index", err)
	}

	m.bm25Mu.Lock()
	m.bm25OK = true
	m.bm25Mu.Unlock()
	m.log.Info("index: bm25 rebuilt", slog.Int("nodes", len(nodes)))
	return nil
}

// QueryText runs a kNN query against the text collection.
func (m *Manager) QueryText(ctx context.Context, vector []float32, k int) ([]store.VectorRecord, error) {
	coll, err := m.textCollection(ctx)
	if err != nil {
		return nil, memoerrors.NewStoreError(memoerrors.ErrCodeStoreQueryFailed, "open text collection", err)
	}
	return coll.Query(ctx, vector, k)
}

// QueryImage runs a kNN query against the image collection.
func (m *Manager) QueryImage(ctx context.Context, vector []float32, k int) ([]store.VectorRecord, error) {
	coll, err := m.imageCollection(ctx)
	if err != nil {
		return nil, memoerrors.NewStoreError(memoerrors.ErrCodeStoreQueryFailed, "open image collection", err)
	}
	return coll.Query(ctx, vector, k)
}

// QueryBM25 runs a BM25 query, first rebuilding the index from a text
// store scan when an upsert/delete has marked it stale or it has never
// been built. Returns ErrCodeBM25NotReady only when that rebuild itself
// fails, so callers can distinguish "keyword side unavailable" from an
// ordinary query error.
func (m *Manager) QueryBM25(ctx context.Context, text string, k int) ([]store.BM25Record, error) {
	if err := m.ensureBM25Fresh(ctx); err != nil {
		return nil, memoerrors.NewStoreError(memoerrors.ErrCodeBM25NotReady, "bm25 index could not be refreshed", err)
	}
	return m.bm25.Query(ctx, text, k)
}

// ensureBM25Fresh rebuilds the BM25 corpus if it is stale or has never
// been built. The check-then-rebuild race between two stale queries is
// benign: both land in RebuildBM25, which serializes them.
func (m *Manager) ensureBM25Fresh(ctx context.Context) error {
	m.bm25Mu.RLock()
	fresh := m.bm25OK && m.bm25.IsReady()
	m.bm25Mu.RUnlock()
	if fresh {
		return nil
	}
	return m.RebuildBM25(ctx)
}

// EmbedQueryText embeds a single query string via the text model, the path
// every strategy uses regardless of target store.
func (m *Manager) EmbedQueryText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.embedText(ctx, []string{text})
	if err != nil {
		return nil, memoerrors.NewProviderError(memoerrors.ErrCodeEmbeddingFailed, "embed query text", err)
	}
	if len(vecs) == 0 {
		return nil, memoerrors.NewProviderError(memoerrors.ErrCodeEmbeddingFailed, "embedder returned no vectors", nil)
	}
	return vecs[0], nil
}

// WatchManifest starts a RebuildWatcher on this Manager's manifest file and
// runs it until ctx is canceled, marking the in-memory BM25 index stale
// whenever another process upserts into the same index_base_dir. Optional:
// a single-process deployment never needs this, since Upsert/Delete already
// mark bm25OK stale locally.
func (m *Manager) WatchManifest(ctx context.Context) error {
	w, err := NewRebuildWatcher(m.manifest.path, func() {
		m.bm25Mu.Lock()
		m.bm25OK = false
		m.bm25Mu.Unlock()
	}, m.log)
	if err != nil {
		return memoerrors.NewStoreError(memoerrors.ErrCodeStoreQueryFailed, "start manifest watcher", err)
	}
	go func() {
		<-ctx.Done()
		_ = w.Close()
	}()
	w.Run(ctx)
	return nil
}

// Close releases the underlying stores.
func (m *Manager) Close() error {
	var err error
	if cErr := m.vectors.Close(); cErr != nil {
		err = cErr
	}
	if cErr := m.bm25.Close(); cErr != nil {
		err = cErr
	}
	return err
}
