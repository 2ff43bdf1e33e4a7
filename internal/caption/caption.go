// Package caption implements the Caption provider: a
// chat-style multi-modal LLM call that turns an image payload into a
// fixed, four-line Chinese-labeled caption, plugged into
// internal/memo.CaptionProvider.
package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	memoerrors "github.com/memoindex/memosearch/internal/errors"
)

// DefaultTimeout bounds a single caption call; vision backends can hang
// on large images, so calls never run unbounded.
const DefaultTimeout = 30 * time.Second

// systemInstruction is the fixed system prompt sent with every caption
// request: it pins the model to the four-key JSON contract.
const systemInstruction = `You are an image captioning assistant. Given an image, respond with a JSON object with exactly these keys: "type_summary" (string), "visual_details" (array of strings), "ocr" (array of strings, text visible in the image), "keywords" (array of strings). Respond with JSON only, no commentary.`

// Fields is the parsed shape of a caption response.
type Fields struct {
	TypeSummary    string   `json:"type_summary"`
	VisualDetails  []string `json:"visual_details"`
	OCR            []string `json:"ocr"`
	Keywords       []string `json:"keywords"`
}

// Render turns Fields into the fixed four-line Chinese-labeled caption
// text stored on image nodes.
func (f Fields) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "类型: %s\n", f.TypeSummary)
	fmt.Fprintf(&b, "细节: %s\n", strings.Join(f.VisualDetails, "; "))
	fmt.Fprintf(&b, "文字: %s\n", strings.Join(f.OCR, "; "))
	fmt.Fprintf(&b, "关键词: %s", strings.Join(f.Keywords, ", "))
	return b.String()
}

// Config configures a Provider.
type Config struct {
	BaseURL    string // chat-completions endpoint base, OpenAI-compatible
	APIKey     string
	Model      string
	Timeout    time.Duration
}

// Provider is a chat-style multi-modal LLM caption provider implementing
// memo.CaptionProvider: it sends a two-part (text + image-url) chat
// message to an OpenAI-compatible endpoint and requires a JSON-object
// response.
type Provider struct {
	client  *http.Client
	cfg     Config
	breaker *memoerrors.CircuitBreaker
}

// NewProvider creates a caption Provider. cfg.Model and cfg.BaseURL must be
// non-empty; an empty APIKey is allowed for providers that don't require
// bearer auth (e.g. a local vision server).
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("caption: base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("caption: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Provider{
		client: &http.Client{},
		cfg:    cfg,
		// A dead vision server fails fast after a few timeouts instead of
		// costing the full timeout on every image of a bulk ingest; the
		// caller's filename fallback covers the gap.
		breaker: memoerrors.NewCircuitBreaker("caption"),
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Caption implements memo.CaptionProvider. meta carries the node metadata
// (memo_uid, attachment_uid, filename, type) the memo package assembles
// for logging purposes; it is not sent to the model.
func (p *Provider) Caption(ctx context.Context, imagePayload string, meta map[string]string) (string, error) {
	var caption string
	err := p.breaker.Execute(func() error {
		var err error
		caption, err = p.caption(ctx, imagePayload)
		return err
	})
	return caption, err
}

func (p *Provider) caption(ctx context.Context, imagePayload string) (string, error) {
	req := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: "Describe this image."},
				{Type: "image_url", ImageURL: &imageURL{URL: imagePayload}},
			}},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("caption: marshal request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("caption: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("caption: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("caption: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("caption: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("caption: empty response")
	}

	fields, err := parseFields(parsed.Choices[0].Message.Content)
	if err != nil {
		return "", fmt.Errorf("caption: parse fields: %w", err)
	}
	return fields.Render(), nil
}

// parseFields parses the model's response into Fields. The provider may
// return a markdown-fenced JSON block; the fence is stripped before
// parsing.
func parseFields(raw string) (Fields, error) {
	cleaned := stripFences(raw)
	var f Fields
	if err := json.Unmarshal([]byte(cleaned), &f); err != nil {
		return Fields{}, fmt.Errorf("invalid JSON object: %w", err)
	}
	return f, nil
}

// stripFences removes a leading ```json / ``` fence and a trailing ```
// if present; some vision models wrap the JSON object in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
