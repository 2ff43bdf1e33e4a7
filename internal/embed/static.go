package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings using a hash-based approach.
// Works without external dependencies (no network, no API key). Used as
// the fallback when no Jina API key is configured; provides deterministic,
// fast embeddings with reduced semantic quality for both text and image
// payloads (an image payload is hashed as a string, same as a URL would be).
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var memoStopWords = map[string]bool{
	"the": true, "and": true, "a": true, "an": true, "of": true,
	"to": true, "in": true, "is": true, "it": true, "that": true,
	"this": true, "for": true, "on": true, "with": true, "as": true,
}

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// EmbedText generates an embedding for a single text.
func (e *StaticEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedTextBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedTextBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.EmbedText(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = v
	}
	return results, nil
}

// EmbedImage generates an embedding for an image payload by hashing the
// payload string itself (URL or data URL); there is no visual model in
// the static fallback.
func (e *StaticEmbedder) EmbedImage(ctx context.Context, payload string) ([]float32, error) {
	return e.EmbedText(ctx, payload)
}

// EmbedImageBatch generates embeddings for multiple image payloads.
func (e *StaticEmbedder) EmbedImageBatch(ctx context.Context, payloads []string) ([][]float32, error) {
	return e.EmbedTextBatch(ctx, payloads)
}

// generateVector creates a hash-based vector from text.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	tokens := filterStopWords(tokenize(text))
	for _, token := range tokens {
		index := hashToIndex(token, StaticDimensions)
		vector[index] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	ngrams := extractNgrams(normalized, ngramSize)
	for _, ngram := range ngrams {
		index := hashToIndex(ngram, StaticDimensions)
		vector[index] += ngramWeight
	}

	return vector
}

func tokenize(text string) []string {
	var tokens []string

	words := tokenRegex.FindAllString(text, -1)
	for _, word := range words {
		lower := strings.ToLower(word)
		if lower != "" {
			tokens = append(tokens, lower)
		}
	}

	return tokens
}

func filterStopWords(tokens []string) []string {
	var filtered []string
	for _, t := range tokens {
		if !memoStopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// TextDimensions returns the text embedding dimension.
func (e *StaticEmbedder) TextDimensions() int { return StaticDimensions }

// ImageDimensions returns the image embedding dimension.
func (e *StaticEmbedder) ImageDimensions() int { return StaticDimensions }

// TextModelName returns the model identifier.
func (e *StaticEmbedder) TextModelName() string { return "static" }

// ImageModelName returns the model identifier.
func (e *StaticEmbedder) ImageModelName() string { return "static" }

// Available checks if the embedder is ready (always true unless closed).
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
