package search

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	memoerrors "github.com/memoindex/memosearch/internal/errors"
)

// Params carries per-request, per-strategy parameters. Zero values mean
// "use the strategy's documented default".
type Params struct {
	Alpha        float64
	TextWeight   float64
	ImageWeight  float64
	RRFConstant  int
	BM25Weight   float64
	VectorWeight float64
}

// Factory builds a Retriever from an Index (the subset of
// *index.Manager every strategy needs) and request params.
type Factory func(idx Index, params Params) Retriever

// entry is one registered strategy: its factory plus a human description
// for introspection.
type entry struct {
	factory     Factory
	description string
}

// Registry is the process-wide name -> strategy-factory catalog.
type Registry struct {
	mu  sync.RWMutex
	log *slog.Logger
	m   map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, m: make(map[string]entry)}
}

// Register adds or overwrites a strategy. Registration is static, done at
// startup; a duplicate name overwrites with a warning.
func (r *Registry) Register(name, description string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.m[name]; exists {
		r.log.Warn("search: retriever registration overwritten", slog.String("name", name))
	}
	r.m[name] = entry{factory: factory, description: description}
}

// Has is a membership test.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.m[name]
	return ok
}

// StrategyInfo is one row of Registry.List().
type StrategyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// List returns every registered strategy, sorted by name.
func (r *Registry) List() []StrategyInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StrategyInfo, 0, len(r.m))
	for name, e := range r.m {
		out = append(out, StrategyInfo{Name: name, Description: e.description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get constructs a retriever instance for name, or ErrCodeUnknownRetriever
// if name isn't registered.
func (r *Registry) Get(idx Index, name string, params Params) (Retriever, error) {
	r.mu.RLock()
	e, ok := r.m[name]
	r.mu.RUnlock()
	if !ok {
		return nil, memoerrors.New(memoerrors.ErrCodeUnknownRetriever, fmt.Sprintf("unknown retriever %q", name), nil)
	}
	return e.factory(idx, params), nil
}

// RegisterDefaults installs the ten built-in strategies.
func RegisterDefaults(r *Registry) {
	r.Register("text", "dense kNN search over the text vector store", func(idx Index, p Params) Retriever {
		return &textRetriever{idx: idx}
	})
	r.Register("image", "dense kNN search over the image vector store", func(idx Index, p Params) Retriever {
		return &imageRetriever{idx: idx}
	})
	r.Register("vector", "text and image vector results merged by raw score", func(idx Index, p Params) Retriever {
		return &vectorRetriever{idx: idx}
	})
	r.Register("hybrid", "vector merge with filters applied post-hoc (legacy)", func(idx Index, p Params) Retriever {
		return &hybridRetriever{idx: idx}
	})
	r.Register("bm25", "sparse BM25 keyword search", func(idx Index, p Params) Retriever {
		return &bm25Retriever{idx: idx}
	})
	r.Register("rrf", "text and image vector results fused by Reciprocal Rank Fusion", func(idx Index, p Params) Retriever {
		textW, imgW := p.TextWeight, p.ImageWeight
		if textW == 0 {
			textW = 1.0
		}
		if imgW == 0 {
			imgW = 1.0
		}
		k := p.RRFConstant
		if k == 0 {
			k = DefaultRRFConstant
		}
		return &rrfRetriever{idx: idx, textWeight: textW, imageWeight: imgW, k: k}
	})
	r.Register("weighted", "text and image vector results combined by min-max normalized weighted sum", func(idx Index, p Params) Retriever {
		textW, imgW := p.TextWeight, p.ImageWeight
		if textW == 0 && imgW == 0 {
			textW, imgW = 0.7, 0.3
		}
		return &weightedRetriever{idx: idx, textWeight: textW, imageWeight: imgW}
	})
	r.Register("bm25_vector", "BM25 and text-vector results fused by weighted RRF", func(idx Index, p Params) Retriever {
		bmW, vW := p.BM25Weight, p.VectorWeight
		if bmW == 0 {
			bmW = 1.0
		}
		if vW == 0 {
			vW = 1.0
		}
		k := p.RRFConstant
		if k == 0 {
			k = DefaultRRFConstant
		}
		return &bm25VectorRetriever{idx: idx, bm25Weight: bmW, vectorWeight: vW, k: k}
	})
	r.Register("bm25_vector_alpha", "BM25 and text-vector results combined by alpha-weighted min-max normalized sum", func(idx Index, p Params) Retriever {
		alpha := p.Alpha
		if alpha == 0 {
			alpha = 0.5
		}
		return &bm25VectorAlphaRetriever{idx: idx, alpha: alpha}
	})
	r.Register("adaptive", "bm25_vector_alpha with alpha derived from the query at runtime", func(idx Index, p Params) Retriever {
		return &adaptiveRetriever{idx: idx}
	})
}
