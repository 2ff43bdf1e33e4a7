package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForUser_BasicError(t *testing.T) {
	err := New(ErrCodeManifestReadFailed, "manifest 'memo_vector_map.json' not found", nil)

	result := FormatForUser(err, false)

	assert.Contains(t, result, "manifest 'memo_vector_map.json' not found")
	assert.Contains(t, result, "[ERR_401_MANIFEST_READ_FAILED]")
}

func TestFormatForUser_WithSuggestion(t *testing.T) {
	err := New(ErrCodeProviderTimeout, "Jina embedding endpoint timed out", nil).
		WithSuggestion("check JINA_API_KEY and network connectivity")

	result := FormatForUser(err, false)

	assert.Contains(t, result, "Suggestion:")
	assert.Contains(t, result, "JINA_API_KEY")
}

func TestFormatForUser_NoStackTraceInNormalMode(t *testing.T) {
	err := New(ErrCodeStoreUpsertFailed, "unexpected error", nil)

	result := FormatForUser(err, false)

	assert.NotContains(t, result, "Stack trace:")
	assert.NotContains(t, result, "goroutine")
}

func TestFormatForUser_StandardError(t *testing.T) {
	err := errors.New("something went wrong")

	result := FormatForUser(err, false)

	assert.Contains(t, result, "something went wrong")
}

func TestFormatForUser_NilError(t *testing.T) {
	result := FormatForUser(nil, false)

	assert.Empty(t, result)
}

func TestFormatJSON_BasicError(t *testing.T) {
	err := New(ErrCodeManifestReadFailed, "manifest not found", nil).
		WithDetail("path", "/index/text/memo_vector_map.json").
		WithSuggestion("run rebuild for this creator")

	data, jsonErr := FormatJSON(err)

	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, ErrCodeManifestReadFailed, result["code"])
	assert.Equal(t, "manifest not found", result["message"])
	assert.Equal(t, string(CategoryManifest), result["category"])
	assert.Equal(t, string(SeverityError), result["severity"])
	assert.Equal(t, "run rebuild for this creator", result["suggestion"])

	details, ok := result["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/index/text/memo_vector_map.json", details["path"])
}

func TestFormatJSON_StandardError(t *testing.T) {
	err := errors.New("generic error")

	data, jsonErr := FormatJSON(err)

	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, ErrCodeStoreUpsertFailed, result["code"])
	assert.Equal(t, "generic error", result["message"])
}

func TestFormatJSON_NilError(t *testing.T) {
	data, err := FormatJSON(nil)

	assert.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(string(data)))
}

func TestFormatJSON_WithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := New(ErrCodeStoreUpsertFailed, "operation failed", cause)

	data, jsonErr := FormatJSON(err)

	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "underlying error", result["cause"])
}

func TestFormatForCLI_FormatsWithCode(t *testing.T) {
	err := New(ErrCodeDimensionMismatch, "embedding dimension is corrupted", nil).
		WithSuggestion("rebuild the index for this creator")

	result := FormatForCLI(err)

	assert.Contains(t, result, "embedding dimension is corrupted")
	assert.Contains(t, result, "ERR_304_DIMENSION_MISMATCH")
}

func TestFormatForCLI_ShortFormat(t *testing.T) {
	err := New(ErrCodeManifestReadFailed, "file not found", nil)

	result := FormatForCLI(err)

	lines := strings.Split(strings.TrimSpace(result), "\n")
	assert.LessOrEqual(t, len(lines), 5, "Should be concise")
}
