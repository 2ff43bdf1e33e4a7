package caption

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields_Render(t *testing.T) {
	f := Fields{
		TypeSummary:   "receipt",
		VisualDetails: []string{"red logo", "barcode"},
		OCR:           []string{"TOTAL $12.34"},
		Keywords:      []string{"grocery", "receipt"},
	}

	rendered := f.Render()

	assert.Equal(t, "类型: receipt\n细节: red logo; barcode\n文字: TOTAL $12.34\n关键词: grocery, receipt", rendered)
}

func TestNewProvider_RequiresBaseURLAndModel(t *testing.T) {
	_, err := NewProvider(Config{Model: "vision-1"})
	assert.Error(t, err)

	_, err = NewProvider(Config{BaseURL: "http://localhost:8080"})
	assert.Error(t, err)
}

func newChatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		resp := chatResponse{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}{{Message: struct {
			Content string `json:"content"`
		}{Content: content}}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestProvider_Caption_ParsesFieldsAndRenders(t *testing.T) {
	server := newChatServer(t, `{"type_summary":"photo","visual_details":["a dog"],"ocr":[],"keywords":["dog","outdoor"]}`)
	defer server.Close()

	p, err := NewProvider(Config{BaseURL: server.URL, Model: "vision-1"})
	require.NoError(t, err)

	caption, err := p.Caption(t.Context(), "data:image/png;base64,AAAA", map[string]string{"memo_uid": "memos/A"})

	require.NoError(t, err)
	assert.Contains(t, caption, "类型: photo")
	assert.Contains(t, caption, "细节: a dog")
	assert.Contains(t, caption, "关键词: dog, outdoor")
}

func TestProvider_Caption_StripsMarkdownFence(t *testing.T) {
	server := newChatServer(t, "```json\n{\"type_summary\":\"chart\",\"visual_details\":[],\"ocr\":[],\"keywords\":[]}\n```")
	defer server.Close()

	p, err := NewProvider(Config{BaseURL: server.URL, Model: "vision-1"})
	require.NoError(t, err)

	caption, err := p.Caption(t.Context(), "data:image/png;base64,AAAA", nil)

	require.NoError(t, err)
	assert.Contains(t, caption, "类型: chart")
}

func TestProvider_Caption_InvalidJSONIsError(t *testing.T) {
	server := newChatServer(t, "not json at all")
	defer server.Close()

	p, err := NewProvider(Config{BaseURL: server.URL, Model: "vision-1"})
	require.NoError(t, err)

	_, err = p.Caption(t.Context(), "data:image/png;base64,AAAA", nil)

	assert.Error(t, err)
}

func TestProvider_Caption_ServerErrorStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p, err := NewProvider(Config{BaseURL: server.URL, Model: "vision-1"})
	require.NoError(t, err)

	_, err = p.Caption(t.Context(), "data:image/png;base64,AAAA", nil)

	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
