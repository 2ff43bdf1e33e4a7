package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Edge case tests for scenarios that could cause silent misconfiguration.

func TestLoad_NegativeWeightAccepted(t *testing.T) {
	// Validate() doesn't range-check weight values themselves (they are
	// per-strategy tuning knobs, not builder limits), so a negative weight
	// should load without error and be visible to the caller.
	clearMemoEnv(t)
	defer clearMemoEnv(t)

	t.Setenv("MEMO_WEIGHTED_TEXT_WEIGHT", "-0.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, -0.5, cfg.WeightedTextWeight, 0.0001)
}

func TestLoad_EmptyEnvValueFallsBackToDefault(t *testing.T) {
	clearMemoEnv(t)
	defer clearMemoEnv(t)

	t.Setenv("MEMO_MAX_TAGS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, NewConfig().MaxTags, cfg.MaxTags)
}

func TestLoad_ZeroRRFConstantFallsBackRatherThanValidationFailure(t *testing.T) {
	// An explicit "0" is rejected by the >0 parse guard in applyEnvOverrides,
	// so the default survives instead of reaching Validate() as zero.
	clearMemoEnv(t)
	defer clearMemoEnv(t)

	t.Setenv("MEMO_RRF_CONSTANT", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.RRFConstant)
}

func TestValidate_TransportIsCaseInsensitive(t *testing.T) {
	cfg := NewConfig()
	cfg.Transport = "STDIO"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_LogLevelIsCaseInsensitive(t *testing.T) {
	cfg := NewConfig()
	cfg.LogLevel = "DEBUG"
	assert.NoError(t, cfg.Validate())
}

func TestExportYAML_CreatesReadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.yaml")

	cfg := NewConfig()
	require.NoError(t, cfg.ExportYAML(path))

	info, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	require.NoError(t, err)
	assert.Len(t, info, 1)
}

func TestExportYAML_SecretsAreNotJSONTagged(t *testing.T) {
	// JinaAPIKey and MemosSessionCookie use json:"-" so a JSON-rendered
	// config (e.g. for status/debug output) never leaks credentials; the
	// YAML snapshot still round-trips them since it has its own tag.
	cfg := NewConfig()
	cfg.JinaAPIKey = "sk-secret"

	rendered, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(rendered), "sk-secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.yaml")
	require.NoError(t, cfg.ExportYAML(path))

	loaded, err := LoadYAML(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", loaded.JinaAPIKey)
}

func TestLoadYAML_PartialSnapshotKeepsDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_tags: 7\n"), 0o644))

	cfg, err := LoadYAML(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxTags)
	assert.Equal(t, NewConfig().RRFConstant, cfg.RRFConstant)
}
