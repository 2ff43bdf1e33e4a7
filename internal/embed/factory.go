package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderType identifies which embedding backend produced a vector.
type ProviderType string

const (
	// ProviderJina uses Jina AI's hosted multi-modal embeddings API.
	ProviderJina ProviderType = "jina"

	// ProviderStatic uses hash-based embeddings (fallback when no Jina
	// API key is configured).
	ProviderStatic ProviderType = "static"
)

// FactoryConfig carries the subset of internal/config.Config the embedder
// factory needs, kept narrow so this package doesn't import internal/config
// directly and create a dependency cycle with config's own consumers.
type FactoryConfig struct {
	JinaAPIKey     string
	JinaTextModel  string
	JinaImageModel string
}

// NewEmbedder constructs the embedder this module will use: a Jina provider
// when an API key is configured, otherwise the deterministic static
// fallback. A caller that explicitly configured
// JinaAPIKey gets a hard error on provider failure rather than a silent
// downgrade to static, since that would otherwise produce an index built
// from vectors of the wrong model/dimensionality.
func NewEmbedder(ctx context.Context, cfg FactoryConfig) (Embedder, error) {
	var embedder Embedder

	if cfg.JinaAPIKey != "" {
		jina, err := NewJinaEmbedder(ctx, JinaConfig{
			APIKey:     cfg.JinaAPIKey,
			TextModel:  cfg.JinaTextModel,
			ImageModel: cfg.JinaImageModel,
		})
		if err != nil {
			return nil, fmt.Errorf("jina unavailable: %w\n\nTo fix:\n  1. Check MEMO_JINA_API_KEY is valid\n  2. Or unset it to fall back to the static (BM25-only quality) embedder", err)
		}
		embedder = jina
	} else {
		embedder = NewStaticEmbedder()
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}

	return embedder, nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("MEMO_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// String returns the string representation of ProviderType.
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{string(ProviderJina), string(ProviderStatic)}
}

// IsValidProvider checks if a provider name is valid.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo describes a constructed embedder for status reporting.
type EmbedderInfo struct {
	Provider       ProviderType
	TextModel      string
	ImageModel     string
	TextDimensions int
	ImageDims      int
	Available      bool
}

// GetInfo returns information about an embedder.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}

	info := EmbedderInfo{
		TextModel:      inner.TextModelName(),
		ImageModel:     inner.ImageModelName(),
		TextDimensions: inner.TextDimensions(),
		ImageDims:      inner.ImageDimensions(),
		Available:      embedder.Available(ctx),
	}

	switch inner.(type) {
	case *JinaEmbedder:
		info.Provider = ProviderJina
	default:
		info.Provider = ProviderStatic
	}

	return info
}

// MustNewEmbedder creates an embedder and panics on failure.
// Use only in tests or initialization code where failure is fatal.
func MustNewEmbedder(ctx context.Context, cfg FactoryConfig) Embedder {
	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
