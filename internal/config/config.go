package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
}

// OllamaEmbedderConfig holds configuration for an Ollama-style HTTP embedder.
type OllamaEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
}

// HashingEmbedderConfig configures the offline feature-hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension" validate:"gte=0,lte=65536"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                 `yaml:"type" validate:"oneof=hashing openai ollama"`
	BatchSize int                    `yaml:"batch_size" validate:"gte=0"`
	Hashing   *HashingEmbedderConfig `yaml:"hashing,omitempty"`
	OpenAI    *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Ollama    *OllamaEmbedderConfig  `yaml:"ollama,omitempty"`
}

// ChunkerConfig configures how sections are split into chunks.
type ChunkerConfig struct {
	ChunkSize      int `yaml:"chunk_size" validate:"gt=0"`
	Overlap        int `yaml:"overlap" validate:"gte=0,ltfield=ChunkSize"`
	MinChunkLength int `yaml:"min_chunk_length" validate:"gte=0"`
}

// StoreConfig configures where index artifacts live.
type StoreConfig struct {
	CacheDir string `yaml:"cache_dir" validate:"required"`
}

// RegistryConfig configures the book catalog. A postgres:// DSN selects
// PostgreSQL; anything else is a SQLite path. Empty disables the catalog.
type RegistryConfig struct {
	DSN string `yaml:"dsn"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	TopK     int     `yaml:"top_k" validate:"gt=0"`
	MinScore float64 `yaml:"min_score" validate:"gte=-1,lte=1"`
}

// IndexingConfig configures directory indexing.
type IndexingConfig struct {
	Directory  string   `yaml:"directory"`
	Workers    int      `yaml:"workers" validate:"gte=0"`
	Extensions []string `yaml:"extensions" validate:"min=1,dive,required"`
}

// SummarizerConfig configures per-book synopses.
type SummarizerConfig struct {
	Type         string `yaml:"type" validate:"oneof=frequency none"`
	MaxSentences int    `yaml:"max_sentences" validate:"gte=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Store      StoreConfig      `yaml:"store"`
	Registry   RegistryConfig   `yaml:"registry"`
	Search     SearchConfig     `yaml:"search"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Log        LogConfig        `yaml:"log"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Errors map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for field, msg := range e.Errors {
		parts = append(parts, field+" "+msg)
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// Validate checks struct constraints.
func (c *AppConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			return err
		}
		out := make(map[string]string)
		for _, e := range errs {
			out[e.Namespace()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return &ValidationError{Errors: out}
	}
	return nil
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/bookrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/bookrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bookrag", "config.yaml"), nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "bookrag")
	}
	return filepath.Join(".", "data", "cache")
}

func defaultConfig() *AppConfig {
	cacheDir := defaultCacheDir()
	return &AppConfig{
		Embedder:   EmbedderConfig{Type: "hashing", BatchSize: 32, Hashing: &HashingEmbedderConfig{Dimension: 384}},
		Chunker:    ChunkerConfig{ChunkSize: 500, Overlap: 50, MinChunkLength: 1},
		Store:      StoreConfig{CacheDir: cacheDir},
		Registry:   RegistryConfig{DSN: filepath.Join(cacheDir, "registry.db")},
		Search:     SearchConfig{TopK: 5, MinScore: 0.1},
		Indexing:   IndexingConfig{Directory: filepath.Join(".", "data", "epub"), Workers: 2, Extensions: []string{".epub"}},
		Summarizer: SummarizerConfig{Type: "frequency", MaxSentences: 3},
		Log:        LogConfig{Level: "info"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	switch cfg.Embedder.Type {
	case "hashing":
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = 384
		}
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	case "ollama":
		if cfg.Embedder.Ollama == nil {
			cfg.Embedder.Ollama = &OllamaEmbedderConfig{}
		}
		if cfg.Embedder.Ollama.BaseURL == "" {
			cfg.Embedder.Ollama.BaseURL = "http://localhost:11434/api"
		}
		if cfg.Embedder.Ollama.Model == "" {
			cfg.Embedder.Ollama.Model = "nomic-embed-text"
		}
		if cfg.Embedder.Ollama.TimeoutSecs == 0 {
			cfg.Embedder.Ollama.TimeoutSecs = 30
		}
	}
	if cfg.Summarizer.Type == "" {
		cfg.Summarizer.Type = "frequency"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Store.CacheDir == "" {
		cfg.Store.CacheDir = defaultCacheDir()
	}
	if len(cfg.Indexing.Extensions) == 0 {
		cfg.Indexing.Extensions = []string{".epub"}
	}
}
