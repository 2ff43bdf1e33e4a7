package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete memo retrieval core configuration, loaded once
// at startup from environment variables under a uniform MEMO_ prefix.
// Unknown keys are ignored.
type Config struct {
	// Builder limits (document builder).
	MaxTags              int `yaml:"max_tags" json:"max_tags"`
	MaxImages             int `yaml:"max_images" json:"max_images"`
	MaxAttachments        int `yaml:"max_attachments" json:"max_attachments"`
	AttachmentSnippetLen  int `yaml:"attachment_snippet_len" json:"attachment_snippet_len"`
	AttachmentTextMaxLen  int `yaml:"attachment_text_max_len" json:"attachment_text_max_len"`

	// Caption control.
	UseImageCaption   bool   `yaml:"use_image_caption" json:"use_image_caption"`
	ImageCaptionModel string `yaml:"image_caption_model" json:"image_caption_model"`
	VisionProvider    string `yaml:"vision_provider" json:"vision_provider"`

	// Embedding provider.
	JinaTextModel  string `yaml:"jina_text_model" json:"jina_text_model"`
	JinaImageModel string `yaml:"jina_image_model" json:"jina_image_model"`
	JinaAPIKey     string `yaml:"jina_api_key" json:"-"`

	// Upstream memo source.
	MemosBaseURL       string `yaml:"memos_base_url" json:"memos_base_url"`
	MemosSessionCookie string `yaml:"memos_session_cookie" json:"-"`

	// Persisted state root.
	IndexBaseDir string `yaml:"index_base_dir" json:"index_base_dir"`

	// Fusion defaults, overridable per request.
	RRFConstant         int     `yaml:"rrf_constant" json:"rrf_constant"`
	WeightedTextWeight  float64 `yaml:"weighted_text_weight" json:"weighted_text_weight"`
	WeightedImageWeight float64 `yaml:"weighted_image_weight" json:"weighted_image_weight"`
	RRFTextWeight       float64 `yaml:"rrf_text_weight" json:"rrf_text_weight"`
	RRFImageWeight      float64 `yaml:"rrf_image_weight" json:"rrf_image_weight"`

	// Server.
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// envPrefix is the uniform prefix for all recognized configuration keys.
const envPrefix = "MEMO_"

// NewConfig creates a Config with the documented retrieval defaults
// (text_weight=0.7/image_weight=0.3 for weighted, 1.0/1.0 for RRF, k=60).
func NewConfig() *Config {
	return &Config{
		MaxTags:              20,
		MaxImages:             10,
		MaxAttachments:        10,
		AttachmentSnippetLen:  200,
		AttachmentTextMaxLen:  2000,
		UseImageCaption:       true,
		ImageCaptionModel:     "",
		VisionProvider:        "",
		JinaTextModel:         "jina-embeddings-v3",
		JinaImageModel:        "jina-clip-v2",
		JinaAPIKey:            "",
		MemosBaseURL:          "",
		MemosSessionCookie:    "",
		IndexBaseDir:          defaultIndexBaseDir(),
		RRFConstant:           60,
		WeightedTextWeight:    0.7,
		WeightedImageWeight:   0.3,
		RRFTextWeight:         1.0,
		RRFImageWeight:        1.0,
		Transport:             "stdio",
		LogLevel:              "info",
	}
}

func defaultIndexBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".memosearch", "index")
	}
	return filepath.Join(home, ".memosearch", "index")
}

// Load builds a Config from defaults overridden by MEMO_* environment
// variables. Environment is the only configuration source; there is no
// file-based layering for this surface.
func Load() (*Config, error) {
	cfg := NewConfig()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := getenv("MAX_TAGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxTags = n
		}
	}
	if v := getenv("MAX_IMAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxImages = n
		}
	}
	if v := getenv("MAX_ATTACHMENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxAttachments = n
		}
	}
	if v := getenv("ATTACHMENT_SNIPPET_LEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AttachmentSnippetLen = n
		}
	}
	if v := getenv("ATTACHMENT_TEXT_MAX_LEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AttachmentTextMaxLen = n
		}
	}
	if v := getenv("USE_IMAGE_CAPTION"); v != "" {
		c.UseImageCaption = strings.ToLower(v) == "true" || v == "1"
	}
	if v := getenv("IMAGE_CAPTION_MODEL"); v != "" {
		c.ImageCaptionModel = v
	}
	if v := getenv("VISION_PROVIDER"); v != "" {
		c.VisionProvider = v
	}
	if v := getenv("JINA_TEXT_MODEL"); v != "" {
		c.JinaTextModel = v
	}
	if v := getenv("JINA_IMAGE_MODEL"); v != "" {
		c.JinaImageModel = v
	}
	if v := getenv("JINA_API_KEY"); v != "" {
		c.JinaAPIKey = v
	}
	if v := getenv("MEMOS_BASE_URL"); v != "" {
		c.MemosBaseURL = v
	}
	if v := getenv("MEMOS_SESSION_COOKIE"); v != "" {
		c.MemosSessionCookie = v
	}
	if v := getenv("INDEX_BASE_DIR"); v != "" {
		c.IndexBaseDir = v
	}
	if v := getenv("RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.RRFConstant = k
		}
	}
	if v := getenv("WEIGHTED_TEXT_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.WeightedTextWeight = w
		}
	}
	if v := getenv("WEIGHTED_IMAGE_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.WeightedImageWeight = w
		}
	}
	if v := getenv("RRF_TEXT_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.RRFTextWeight = w
		}
	}
	if v := getenv("RRF_IMAGE_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.RRFImageWeight = w
		}
	}
	if v := getenv("TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func getenv(key string) string {
	return os.Getenv(envPrefix + key)
}

// Validate checks the configuration for out-of-range values, itself a
// ValidationError-category concern
func (c *Config) Validate() error {
	if c.MaxTags < 0 {
		return fmt.Errorf("max_tags must be non-negative, got %d", c.MaxTags)
	}
	if c.MaxImages < 0 {
		return fmt.Errorf("max_images must be non-negative, got %d", c.MaxImages)
	}
	if c.MaxAttachments < 0 {
		return fmt.Errorf("max_attachments must be non-negative, got %d", c.MaxAttachments)
	}
	if c.RRFConstant <= 0 {
		return fmt.Errorf("rrf_constant must be positive, got %d", c.RRFConstant)
	}
	if c.IndexBaseDir == "" {
		return fmt.Errorf("index_base_dir must not be empty")
	}

	validTransports := map[string]bool{"stdio": true, "sse": true}
	if !validTransports[strings.ToLower(c.Transport)] {
		return fmt.Errorf("transport must be 'stdio' or 'sse', got %s", c.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// ExportYAML writes the configuration to a YAML file so a deployment's
// effective settings can be snapshotted and diffed.
func (c *Config) ExportYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config snapshot: %w", err)
	}
	return nil
}

// LoadYAML loads a previously exported configuration snapshot, applied on
// top of defaults.
func LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config snapshot %s: %w", path, err)
	}
	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config snapshot %s: %w", path, err)
	}
	return cfg, nil
}
