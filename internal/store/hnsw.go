package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWVectorStore is the Vector Store Adapter: it owns one
// HNSWCollection per (kind, embedding-model) pair, persisted under
// baseDir/<kind>_<sanitized-model>.hnsw, so text and image vectors (and
// vectors from different embedding models) never share a graph.
type HNSWVectorStore struct {
	mu          sync.Mutex
	baseDir     string
	collections map[string]*HNSWCollection
}

// NewHNSWVectorStore creates a Vector Store Adapter rooted at baseDir. An
// empty baseDir keeps every collection in memory only (used by tests).
func NewHNSWVectorStore(baseDir string) *HNSWVectorStore {
	return &HNSWVectorStore{
		baseDir:     baseDir,
		collections: make(map[string]*HNSWCollection),
	}
}

// Collection returns the collection for (kind, modelIdentifier), creating
// and, if persisted, loading it on first use.
func (s *HNSWVectorStore) Collection(ctx context.Context, kind, modelIdentifier string, dimensions int) (Collection, error) {
	name := fmt.Sprintf("%s_%s", kind, sanitizeCollectionName(modelIdentifier))

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.collections[name]; ok {
		if existing.Dimensions() != dimensions {
			return nil, ErrDimensionMismatch{Expected: existing.Dimensions(), Got: dimensions}
		}
		return existing, nil
	}

	col, err := newHNSWCollection(name, VectorStoreConfig{Dimensions: dimensions}, s.collectionPath(name))
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	if col.persistPath != "" {
		if _, statErr := os.Stat(col.persistPath); statErr == nil {
			if loadErr := col.load(); loadErr != nil {
				slog.Warn("vector_collection_load_failed",
					slog.String("collection", name), slog.Any("error", loadErr))
			}
		}
	}

	s.collections[name] = col
	return col, nil
}

func (s *HNSWVectorStore) collectionPath(name string) string {
	if s.baseDir == "" {
		return ""
	}
	return filepath.Join(s.baseDir, name+".hnsw")
}

// Close persists and releases every open collection.
func (s *HNSWVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, col := range s.collections {
		if col.persistPath != "" {
			if err := col.save(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("save collection %s: %w", name, err)
			}
		}
		if err := col.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ VectorStore = (*HNSWVectorStore)(nil)

// HNSWCollection implements Collection using coder/hnsw, a pure-Go HNSW
// implementation (no CGO). Each node's text and metadata are kept
// alongside the graph so Query/Scan can return full VectorRecords.
type HNSWCollection struct {
	mu     sync.RWMutex
	name   string
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	idMap   map[string]uint64 // node id -> internal key
	keyMap  map[uint64]string // internal key -> node id
	texts   map[string]string
	meta    map[string]map[string]string
	nextKey uint64

	persistPath string
	closed      bool
}

type hnswPersisted struct {
	IDMap   map[string]uint64
	Texts   map[string]string
	Meta    map[string]map[string]string
	NextKey uint64
	Config  VectorStoreConfig
}

func newHNSWCollection(name string, cfg VectorStoreConfig, persistPath string) (*HNSWCollection, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWCollection{
		name:        name,
		graph:       graph,
		config:      cfg,
		idMap:       make(map[string]uint64),
		keyMap:      make(map[uint64]string),
		texts:       make(map[string]string),
		meta:        make(map[string]map[string]string),
		persistPath: persistPath,
	}, nil
}

func (c *HNSWCollection) Name() string    { return c.name }
func (c *HNSWCollection) Dimensions() int { return c.config.Dimensions }

// Upsert inserts or replaces a node's vector, text, and metadata. Re-
// inserting an existing node_id uses lazy deletion: the old graph node is
// orphaned rather than removed, since coder/hnsw has known issues deleting
// the last live node in a graph.
func (c *HNSWCollection) Upsert(ctx context.Context, nodeID string, vector []float32, text string, metadata map[string]string) error {
	if len(vector) != c.config.Dimensions {
		return ErrDimensionMismatch{Expected: c.config.Dimensions, Got: len(vector)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("collection %s is closed", c.name)
	}

	if existingKey, exists := c.idMap[nodeID]; exists {
		delete(c.keyMap, existingKey)
		delete(c.idMap, nodeID)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	if c.config.Metric == "cos" {
		normalizeVectorInPlace(vec)
	}

	key := c.nextKey
	c.nextKey++
	c.graph.Add(hnsw.MakeNode(key, vec))

	c.idMap[nodeID] = key
	c.keyMap[key] = nodeID
	c.texts[nodeID] = text
	c.meta[nodeID] = metadata

	return nil
}

func (c *HNSWCollection) Delete(ctx context.Context, nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("collection %s is closed", c.name)
	}

	if key, exists := c.idMap[nodeID]; exists {
		delete(c.keyMap, key)
		delete(c.idMap, nodeID)
	}
	delete(c.texts, nodeID)
	delete(c.meta, nodeID)

	return nil
}

func (c *HNSWCollection) Query(ctx context.Context, vector []float32, k int) ([]VectorRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("collection %s is closed", c.name)
	}
	if len(vector) != c.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: c.config.Dimensions, Got: len(vector)}
	}
	if c.graph.Len() == 0 {
		return []VectorRecord{}, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	if c.config.Metric == "cos" {
		normalizeVectorInPlace(query)
	}

	nodes := c.graph.Search(query, k)
	results := make([]VectorRecord, 0, len(nodes))
	for _, node := range nodes {
		id, exists := c.keyMap[node.Key]
		if !exists {
			continue // lazily-deleted node, still present in the graph
		}
		distance := c.graph.Distance(query, node.Value)
		results = append(results, VectorRecord{
			NodeID:   id,
			Score:    distanceToScore(distance, c.config.Metric),
			Text:     c.texts[id],
			Metadata: c.meta[id],
		})
	}
	return results, nil
}

// hnswScanner walks the live (non-orphaned) node ids captured at Scan time.
type hnswScanner struct {
	col *HNSWCollection
	ids []string
	pos int
	cur VectorRecord
}

func (s *hnswScanner) Next() bool {
	if s.pos >= len(s.ids) {
		return false
	}
	id := s.ids[s.pos]
	s.pos++
	s.col.mu.RLock()
	s.cur = VectorRecord{NodeID: id, Text: s.col.texts[id], Metadata: s.col.meta[id]}
	s.col.mu.RUnlock()
	return true
}

func (s *hnswScanner) Record() VectorRecord { return s.cur }
func (s *hnswScanner) Err() error           { return nil }
func (s *hnswScanner) Close() error         { return nil }

func (c *HNSWCollection) Scan(ctx context.Context) (Scanner, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("collection %s is closed", c.name)
	}

	ids := make([]string, 0, len(c.idMap))
	for id := range c.idMap {
		ids = append(ids, id)
	}
	return &hnswScanner{col: c, ids: ids}, nil
}

func (c *HNSWCollection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0
	}
	return len(c.idMap)
}

func (c *HNSWCollection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.graph = nil
	return nil
}

// save persists the graph (gob+coder/hnsw's native export) and the side
// tables (text/metadata/id mappings) via write-temp-then-rename.
func (c *HNSWCollection) save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.persistPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.persistPath), 0o755); err != nil {
		return fmt.Errorf("create collection dir: %w", err)
	}

	tmpGraphPath := c.persistPath + ".tmp"
	graphFile, err := os.Create(tmpGraphPath)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	if err := c.graph.Export(graphFile); err != nil {
		_ = graphFile.Close()
		_ = os.Remove(tmpGraphPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := graphFile.Close(); err != nil {
		_ = os.Remove(tmpGraphPath)
		return fmt.Errorf("close graph file: %w", err)
	}
	if err := os.Rename(tmpGraphPath, c.persistPath); err != nil {
		_ = os.Remove(tmpGraphPath)
		return fmt.Errorf("rename graph file: %w", err)
	}

	return c.saveSideTables(c.persistPath + ".meta")
}

func (c *HNSWCollection) saveSideTables(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create side table file: %w", err)
	}

	persisted := hnswPersisted{
		IDMap:   c.idMap,
		Texts:   c.texts,
		Meta:    c.meta,
		NextKey: c.nextKey,
		Config:  c.config,
	}

	if err := gob.NewEncoder(file).Encode(persisted); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode side tables: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close side table file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

func (c *HNSWCollection) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadSideTables(c.persistPath + ".meta"); err != nil {
		return fmt.Errorf("load side tables: %w", err)
	}

	file, err := os.Open(c.persistPath)
	if err != nil {
		return fmt.Errorf("open graph file: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := bufio.NewReader(file)
	if err := c.graph.Import(reader); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (c *HNSWCollection) loadSideTables(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open side table file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var persisted hnswPersisted
	if err := gob.NewDecoder(file).Decode(&persisted); err != nil {
		return fmt.Errorf("decode side tables: %w", err)
	}

	c.idMap = persisted.IDMap
	c.texts = persisted.Texts
	c.meta = persisted.Meta
	c.nextKey = persisted.NextKey
	c.config = persisted.Config

	c.keyMap = make(map[uint64]string, len(c.idMap))
	for id, key := range c.idMap {
		c.keyMap[key] = id
	}
	return nil
}

var _ Collection = (*HNSWCollection)(nil)

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance value to a similarity score in
// [0, 1], higher-is-better.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
