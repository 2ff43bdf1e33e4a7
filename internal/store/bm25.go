package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// MixedTokenizerName is the name of the registered mixed CJK/ASCII
	// Bleve tokenizer.
	MixedTokenizerName = "mixed_cjk_tokenizer"

	// MixedStopFilterName is the name of the registered stop word filter.
	MixedStopFilterName = "mixed_stop"

	// MixedAnalyzerName is the name of the composed analyzer.
	MixedAnalyzerName = "mixed_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(MixedTokenizerName, mixedTokenizerConstructor)
	_ = registry.RegisterTokenFilter(MixedStopFilterName, mixedStopFilterConstructor)
}

// bleveNodeDoc is the document shape indexed into Bleve. Content is
// analyzed by the mixed tokenizer; MetadataJSON is stored verbatim and
// excluded from indexing/scoring.
type bleveNodeDoc struct {
	Content      string `json:"content"`
	MetadataJSON string `json:"metadata_json"`
}

// BleveBM25Index implements BM25Index over Bleve v2.
type BleveBM25Index struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string
	ready bool
}

// NewBleveBM25Index creates a BM25 Index. An empty path keeps it
// in-memory only (used by tests and by any caller that rebuilds the
// corpus from a text-store scan on every startup).
func NewBleveBM25Index(path string) (*BleveBM25Index, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("bm25_index_corrupted", slog.String("path", path), slog.Any("error", validErr))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("bm25 index corrupted at %s, cannot remove: %w", path, rmErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("bm25_index_open_failed", slog.String("path", path), slog.Any("error", err))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("bm25 index corrupted, cannot clear: %w", rmErr)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create/open bm25 index: %w", err)
	}

	b := &BleveBM25Index{index: idx, path: path}
	count, _ := idx.DocCount()
	b.ready = count > 0
	return b, nil
}

func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") ||
		strings.Contains(s, "error parsing mapping JSON") ||
		strings.Contains(s, "failed to load segment") ||
		strings.Contains(s, "error opening bolt") ||
		strings.Contains(s, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	if err := indexMapping.AddCustomAnalyzer(MixedAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": MixedTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			MixedStopFilterName,
		},
	}); err != nil {
		return nil, fmt.Errorf("add mixed analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = MixedAnalyzerName

	nodeMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = MixedAnalyzerName
	contentField.Store = true
	nodeMapping.AddFieldMappingsAt("content", contentField)

	metaField := bleve.NewTextFieldMapping()
	metaField.Index = false
	metaField.Store = true
	metaField.IncludeInAll = false
	nodeMapping.AddFieldMappingsAt("metadata_json", metaField)

	indexMapping.AddDocumentMapping("_default", nodeMapping)

	return indexMapping, nil
}

// Build replaces the whole BM25 corpus with nodes; there is no
// incremental update. Nodes already in the index but absent from the new
// set are dropped.
func (b *BleveBM25Index) Build(ctx context.Context, nodes []BM25Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.index == nil {
		return fmt.Errorf("bm25 index is closed")
	}

	existing, err := b.allIDsLocked()
	if err != nil {
		return fmt.Errorf("list existing bm25 ids: %w", err)
	}

	batch := b.index.NewBatch()
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		metaJSON, err := json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for node %s: %w", n.NodeID, err)
		}
		doc := bleveNodeDoc{Content: n.Text, MetadataJSON: string(metaJSON)}
		if err := batch.Index(n.NodeID, doc); err != nil {
			return fmt.Errorf("batch index node %s: %w", n.NodeID, err)
		}
		seen[n.NodeID] = struct{}{}
	}
	for _, id := range existing {
		if _, ok := seen[id]; !ok {
			batch.Delete(id)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute bm25 build batch: %w", err)
	}
	b.ready = true
	return nil
}

// Query ranks nodes by BM25 score against text, returning at most k.
func (b *BleveBM25Index) Query(ctx context.Context, text string, k int) ([]BM25Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if strings.TrimSpace(text) == "" {
		return []BM25Record{}, nil
	}

	matchQuery := bleve.NewMatchQuery(text)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = k
	req.IncludeLocations = true
	req.Fields = []string{"content", "metadata_json"}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}

	records := make([]BM25Record, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var metadata map[string]string
		if raw, ok := hit.Fields["metadata_json"].(string); ok && raw != "" {
			_ = json.Unmarshal([]byte(raw), &metadata)
		}
		content, _ := hit.Fields["content"].(string)

		records = append(records, BM25Record{
			NodeID:       hit.ID,
			Score:        hit.Score,
			Text:         content,
			Metadata:     metadata,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}
	return records, nil
}

func (b *BleveBM25Index) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index == nil {
		return nil
	}
	err := b.index.Close()
	b.index = nil
	return err
}

func (b *BleveBM25Index) allIDsLocked() ([]string, error) {
	docCount, _ := b.index.DocCount()
	if docCount == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(docCount)
	req.Fields = []string{}

	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search for all ids: %w", err)
	}
	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "content" {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}
	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

var _ BM25Index = (*BleveBM25Index)(nil)

func mixedTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveMixedTokenizer{inner: NewMixedTokenizer(nil)}, nil
}

// bleveMixedTokenizer adapts MixedTokenizer to Bleve's analysis.Tokenizer,
// which additionally needs each token's byte offsets in the source text.
type bleveMixedTokenizer struct {
	inner *MixedTokenizer
}

func (t *bleveMixedTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := t.inner.Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, tok := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), tok)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(tok)

		result = append(result, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.Ideographic,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func mixedStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveStopFilter{stopWords: BuildStopWordMap(DefaultMemoStopWords)}, nil
}

type bleveStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		term := strings.ToLower(string(token.Term))
		if _, isStop := f.stopWords[term]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
