package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of embeddings to cache
// per modality.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder wraps an Embedder with LRU caching to avoid redundant
// embedding computations, keyed separately for text and image payloads
// since they may resolve to different model identifiers and dimensions.
type CachedEmbedder struct {
	inner     Embedder
	textCache *lru.Cache[string, []float32]
	imgCache  *lru.Cache[string, []float32]
}

// NewCachedEmbedder creates a cached embedder wrapping the given embedder.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	textCache, _ := lru.New[string, []float32](cacheSize)
	imgCache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{
		inner:     inner,
		textCache: textCache,
		imgCache:  imgCache,
	}
}

// NewCachedEmbedderWithDefaults creates a cached embedder with default settings.
func NewCachedEmbedderWithDefaults(inner Embedder) *CachedEmbedder {
	return NewCachedEmbedder(inner, DefaultEmbeddingCacheSize)
}

func cacheKey(payload, modelName string) string {
	combined := payload + "\x00" + modelName
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// EmbedText returns a cached embedding if available, otherwise computes and caches.
func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text, c.inner.TextModelName())
	if vec, ok := c.textCache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}

	c.textCache.Add(key, vec)
	return vec, nil
}

// EmbedTextBatch generates embeddings for multiple texts, caching each result.
func (c *CachedEmbedder) EmbedTextBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embedBatch(ctx, texts, c.textCache, c.inner.TextModelName(), c.inner.EmbedTextBatch)
}

// EmbedImage returns a cached embedding if available, otherwise computes and caches.
func (c *CachedEmbedder) EmbedImage(ctx context.Context, payload string) ([]float32, error) {
	key := cacheKey(payload, c.inner.ImageModelName())
	if vec, ok := c.imgCache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.EmbedImage(ctx, payload)
	if err != nil {
		return nil, err
	}

	c.imgCache.Add(key, vec)
	return vec, nil
}

// EmbedImageBatch generates embeddings for multiple image payloads, caching each result.
func (c *CachedEmbedder) EmbedImageBatch(ctx context.Context, payloads []string) ([][]float32, error) {
	return c.embedBatch(ctx, payloads, c.imgCache, c.inner.ImageModelName(), c.inner.EmbedImageBatch)
}

func (c *CachedEmbedder) embedBatch(
	ctx context.Context,
	payloads []string,
	cache *lru.Cache[string, []float32],
	modelName string,
	embedFn func(context.Context, []string) ([][]float32, error),
) ([][]float32, error) {
	if len(payloads) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(payloads))
	uncachedIndices := make([]int, 0, len(payloads))
	uncachedPayloads := make([]string, 0, len(payloads))

	for i, p := range payloads {
		key := cacheKey(p, modelName)
		if vec, ok := cache.Get(key); ok {
			results[i] = vec
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedPayloads = append(uncachedPayloads, p)
		}
	}

	if len(uncachedPayloads) == 0 {
		return results, nil
	}

	newEmbeddings, err := embedFn(ctx, uncachedPayloads)
	if err != nil {
		return nil, err
	}

	for j, idx := range uncachedIndices {
		results[idx] = newEmbeddings[j]
		cache.Add(cacheKey(payloads[idx], modelName), newEmbeddings[j])
	}

	return results, nil
}

// TextDimensions returns the text embedding dimension (passthrough to inner).
func (c *CachedEmbedder) TextDimensions() int { return c.inner.TextDimensions() }

// ImageDimensions returns the image embedding dimension (passthrough to inner).
func (c *CachedEmbedder) ImageDimensions() int { return c.inner.ImageDimensions() }

// TextModelName returns the text model identifier (passthrough to inner).
func (c *CachedEmbedder) TextModelName() string { return c.inner.TextModelName() }

// ImageModelName returns the image model identifier (passthrough to inner).
func (c *CachedEmbedder) ImageModelName() string { return c.inner.ImageModelName() }

// Available checks if the embedder is ready (passthrough to inner).
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close releases resources and closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

// Inner returns the underlying embedder.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}
