package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	memoerrors "github.com/memoindex/memosearch/internal/errors"
)

// JinaConfig configures a JinaEmbedder.
type JinaConfig struct {
	APIKey     string        // Jina AI API key (bearer token)
	TextModel  string        // text embedding model, e.g. "jina-embeddings-v3"
	ImageModel string        // multi-modal embedding model, e.g. "jina-clip-v2"
	BaseURL    string        // API base, defaults to DefaultJinaBaseURL
	BatchSize  int           // requests are chunked to this many inputs per call
	Timeout    time.Duration // per-request timeout
	MaxRetries int           // attempts per request (first try included); any failed attempt is retried
}

const (
	// DefaultJinaBaseURL is Jina AI's embeddings endpoint.
	DefaultJinaBaseURL = "https://api.jina.ai/v1"

	// DefaultJinaTextModel is used when configuration leaves JinaTextModel empty.
	DefaultJinaTextModel = "jina-embeddings-v3"

	// DefaultJinaImageModel is used when configuration leaves JinaImageModel empty.
	DefaultJinaImageModel = "jina-clip-v2"
)

// jinaEmbedRequest is the request body for POST /embeddings.
// "input" holds objects of either {"text": ...} or {"image": ...} shape,
// per Jina's multi-modal embeddings API.
type jinaEmbedRequest struct {
	Model string      `json:"model"`
	Input []jinaInput `json:"input"`
}

type jinaInput struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type jinaEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// JinaEmbedder generates embeddings via Jina AI's hosted multi-modal
// embeddings API: a text model for prose and an image/CLIP model that
// shares the same vector space as text queries.
type JinaEmbedder struct {
	client *http.Client
	cfg    JinaConfig

	mu        sync.RWMutex
	closed    bool
	textDims  int
	imageDims int
}

var _ Embedder = (*JinaEmbedder)(nil)

// NewJinaEmbedder creates a Jina embedder and probes both models once to
// learn their dimensions.
func NewJinaEmbedder(ctx context.Context, cfg JinaConfig) (*JinaEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("jina: API key is required")
	}
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultJinaTextModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultJinaImageModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultJinaBaseURL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	e := &JinaEmbedder{
		client: &http.Client{},
		cfg:    cfg,
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	textVecs, err := e.doEmbedWithRetry(probeCtx, cfg.TextModel, []jinaInput{{Text: "dimension probe"}})
	if err != nil {
		return nil, fmt.Errorf("jina: text model probe failed: %w", err)
	}
	e.textDims = len(textVecs[0])

	imgVecs, err := e.doEmbedWithRetry(probeCtx, cfg.ImageModel, []jinaInput{{Text: "dimension probe"}})
	if err != nil {
		return nil, fmt.Errorf("jina: image model probe failed: %w", err)
	}
	e.imageDims = len(imgVecs[0])

	return e, nil
}

// EmbedText generates an embedding for a single text.
func (e *JinaEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTextBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTextBatch generates embeddings for multiple texts, chunked to BatchSize.
func (e *JinaEmbedder) EmbedTextBatch(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]jinaInput, len(texts))
	for i, t := range texts {
		inputs[i] = jinaInput{Text: t}
	}
	return e.embedChunked(ctx, e.cfg.TextModel, inputs)
}

// EmbedImage generates an embedding for a single image payload (a URL or a data URL).
func (e *JinaEmbedder) EmbedImage(ctx context.Context, payload string) ([]float32, error) {
	vecs, err := e.EmbedImageBatch(ctx, []string{payload})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedImageBatch generates embeddings for multiple image payloads.
func (e *JinaEmbedder) EmbedImageBatch(ctx context.Context, payloads []string) ([][]float32, error) {
	inputs := make([]jinaInput, len(payloads))
	for i, p := range payloads {
		inputs[i] = jinaInput{Image: p}
	}
	return e.embedChunked(ctx, e.cfg.ImageModel, inputs)
}

func (e *JinaEmbedder) embedChunked(ctx context.Context, model string, inputs []jinaInput) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(inputs))
	for start := 0; start < len(inputs); start += e.cfg.BatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + e.cfg.BatchSize
		if end > len(inputs) {
			end = len(inputs)
		}

		vecs, err := e.doEmbedWithRetry(ctx, model, inputs[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch [%d:%d]: %w", start, end, err)
		}
		for i, v := range vecs {
			results[start+i] = v
		}
	}
	return results, nil
}

func (e *JinaEmbedder) doEmbedWithRetry(ctx context.Context, model string, inputs []jinaInput) ([][]float32, error) {
	retryCfg := memoerrors.RetryConfig{
		MaxRetries:   e.cfg.MaxRetries - 1,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
	attempt := 0
	return memoerrors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
		attempt++
		// Each attempt gets its own timeout so a stalled connection can't
		// eat the whole retry budget.
		timeoutCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		vecs, err := e.doEmbed(timeoutCtx, model, inputs)
		if err != nil {
			slog.Debug("jina_embed_attempt_failed",
				slog.Int("attempt", attempt),
				slog.String("model", model),
				slog.String("error", err.Error()))
		}
		return vecs, err
	})
}

func (e *JinaEmbedder) doEmbed(ctx context.Context, model string, inputs []jinaInput) ([][]float32, error) {
	reqBody := jinaEmbedRequest{Model: model, Input: inputs}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to jina: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result jinaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	vecs := make([][]float32, len(result.Data))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			continue
		}
		vecs[d.Index] = normalizeVector(d.Embedding)
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding at index %d", i)
		}
	}
	return vecs, nil
}

// TextDimensions returns the text embedding dimension.
func (e *JinaEmbedder) TextDimensions() int { return e.textDims }

// ImageDimensions returns the image embedding dimension.
func (e *JinaEmbedder) ImageDimensions() int { return e.imageDims }

// TextModelName returns the text model identifier.
func (e *JinaEmbedder) TextModelName() string { return e.cfg.TextModel }

// ImageModelName returns the image model identifier.
func (e *JinaEmbedder) ImageModelName() string { return e.cfg.ImageModel }

// Available checks whether the Jina API accepts calls with the configured key.
func (e *JinaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	_, err := e.EmbedText(ctx, "availability check")
	return err == nil
}

// Close releases resources.
func (e *JinaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
