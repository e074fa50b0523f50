package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"docrag/internal/domain"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs" validate:"gte=0"`
	BatchSize         int     `yaml:"batch_size" validate:"gte=0"`
	Workers           int     `yaml:"workers" validate:"gte=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// HashingEmbedderConfig configures the in-process embedder.
type HashingEmbedderConfig struct {
	Dimension int    `yaml:"dimension" validate:"gte=0"`
	ModelPath string `yaml:"model_path"`
}

// OllamaConfig points at a local Ollama server.
type OllamaConfig struct {
	Host        string `yaml:"host" validate:"omitempty,url"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
}

// RetryConfig bounds retries of transient embedding failures.
type RetryConfig struct {
	MaxRetries        int `yaml:"max_retries" validate:"gte=0"`
	InitialIntervalMs int `yaml:"initial_interval_ms" validate:"gte=0"`
	MaxIntervalMs     int `yaml:"max_interval_ms" validate:"gte=0"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type              string                 `yaml:"type" validate:"oneof=hashing openai ollama"`
	Hashing           *HashingEmbedderConfig `yaml:"hashing,omitempty"`
	OpenAI            *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Ollama            *OllamaConfig          `yaml:"ollama,omitempty"`
	Fallback          bool                   `yaml:"fallback"`
	FallbackDimension int                    `yaml:"fallback_dimension" validate:"gte=0"`
	CacheSize         int                    `yaml:"cache_size" validate:"gte=0"`
	Retry             RetryConfig            `yaml:"retry"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap int `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type             string          `yaml:"type" validate:"oneof=bolt memory qdrant pgvector"`
	CollectionName   string          `yaml:"collection_name" validate:"required,excludesall=/\\,ne=.,ne=.."`
	PersistDirectory string          `yaml:"persist_directory"`
	TopK             int             `yaml:"top_k" validate:"gt=0"`
	Qdrant           *QdrantConfig   `yaml:"qdrant,omitempty"`
	PGVector         *PGVectorConfig `yaml:"pgvector,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" validate:"omitempty,url"`
	APIKey      string `yaml:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
}

// PGVectorConfig holds the Postgres connection string, or the name of the
// environment variable that carries it.
type PGVectorConfig struct {
	DSN    string `yaml:"dsn"`
	DSNEnv string `yaml:"dsn_env"`
}

// BreakerConfig configures the generator circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
	OpenTimeoutSecs     int    `yaml:"open_timeout_secs" validate:"gte=0"`
}

// OpenAIGeneratorConfig configures an OpenAI-compatible chat model.
type OpenAIGeneratorConfig struct {
	BaseURL     string  `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`
	TimeoutSecs int     `yaml:"timeout_secs" validate:"gte=0"`
}

// GeneratorConfig selects the answer generator; "none" answers with the
// retrieved chunks only.
type GeneratorConfig struct {
	Type             string                 `yaml:"type" validate:"oneof=none openai ollama"`
	OpenAI           *OpenAIGeneratorConfig `yaml:"openai,omitempty"`
	Ollama           *OllamaConfig          `yaml:"ollama,omitempty"`
	MaxContextTokens int                    `yaml:"max_context_tokens" validate:"gte=0"`
	Breaker          BreakerConfig          `yaml:"breaker"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type" validate:"oneof=frequency none"`
	MaxSentences int    `yaml:"max_sentences" validate:"gte=0"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfiguration, path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/docrag/config.yaml and returns them.
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
	cfg := Default()
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

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the per-type blocks. Errors wrap
// domain.ErrConfiguration.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s' tag", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("%w: %s", domain.ErrConfiguration, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	if c.VectorStore.Type == "bolt" && c.VectorStore.PersistDirectory == "" {
		return fmt.Errorf("%w: vector_store.persist_directory is required for bolt", domain.ErrConfiguration)
	}
	if c.VectorStore.Type == "pgvector" && c.PGVectorDSN() == "" {
		return fmt.Errorf("%w: vector_store.pgvector needs dsn or dsn_env", domain.ErrConfiguration)
	}
	return nil
}

// PGVectorDSN resolves the Postgres connection string.
func (c *AppConfig) PGVectorDSN() string {
	pg := c.VectorStore.PGVector
	if pg == nil {
		return ""
	}
	if pg.DSN != "" {
		return pg.DSN
	}
	if pg.DSNEnv != "" {
		return os.Getenv(pg.DSNEnv)
	}
	return ""
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml"), nil
}

// Default returns the configuration used when no file exists: local
// embeddings, a bolt collection under ./chroma_db and retrieval-only answers.
func Default() *AppConfig {
	cfg := &AppConfig{
		Embedder: EmbedderConfig{
			Type:     "hashing",
			Hashing:  &HashingEmbedderConfig{Dimension: 384},
			Fallback: true,
		},
		Chunker: ChunkerConfig{ChunkSize: 1000, ChunkOverlap: 200},
		VectorStore: VectorStoreConfig{
			Type:             "bolt",
			CollectionName:   "documents",
			PersistDirectory: "./chroma_db",
			TopK:             4,
		},
		Generator:  GeneratorConfig{Type: "none"},
		Summarizer: SummarizerConfig{Type: "frequency", MaxSentences: 5},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		Server:     ServerConfig{Addr: ":8080"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
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
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 32
		}
		if o.Workers == 0 {
			o.Workers = 2
		}
	case "ollama":
		if cfg.Embedder.Ollama == nil {
			cfg.Embedder.Ollama = &OllamaConfig{}
		}
		ollamaDefaults(cfg.Embedder.Ollama, "all-minilm")
	}
	if cfg.Embedder.Retry == (RetryConfig{}) {
		cfg.Embedder.Retry = RetryConfig{MaxRetries: 5, InitialIntervalMs: 200, MaxIntervalMs: 5000}
	}

	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
		if cfg.Chunker.ChunkOverlap == 0 {
			cfg.Chunker.ChunkOverlap = 200
		}
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "bolt"
	}
	if cfg.VectorStore.CollectionName == "" {
		cfg.VectorStore.CollectionName = "documents"
	}
	if cfg.VectorStore.PersistDirectory == "" && cfg.VectorStore.Type == "bolt" {
		cfg.VectorStore.PersistDirectory = "./chroma_db"
	}
	if cfg.VectorStore.TopK == 0 {
		cfg.VectorStore.TopK = 4
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant == nil {
		cfg.VectorStore.Qdrant = &QdrantConfig{}
	}
	if q := cfg.VectorStore.Qdrant; q != nil {
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	}

	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "none"
	}
	switch cfg.Generator.Type {
	case "openai":
		if cfg.Generator.OpenAI == nil {
			cfg.Generator.OpenAI = &OpenAIGeneratorConfig{}
		}
		o := cfg.Generator.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "gpt-4o-mini"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 60
		}
	case "ollama":
		if cfg.Generator.Ollama == nil {
			cfg.Generator.Ollama = &OllamaConfig{}
		}
		ollamaDefaults(cfg.Generator.Ollama, "llama3.2")
	}
	if cfg.Generator.MaxContextTokens == 0 {
		cfg.Generator.MaxContextTokens = 3000
	}
	if cfg.Generator.Breaker.ConsecutiveFailures == 0 {
		cfg.Generator.Breaker.ConsecutiveFailures = 5
	}
	if cfg.Generator.Breaker.OpenTimeoutSecs == 0 {
		cfg.Generator.Breaker.OpenTimeoutSecs = 30
	}

	if cfg.Summarizer.Type == "" {
		cfg.Summarizer.Type = "frequency"
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}

func ollamaDefaults(o *OllamaConfig, model string) {
	if o.Host == "" {
		o.Host = "http://localhost:11434"
	}
	if o.Model == "" {
		o.Model = model
	}
	if o.TimeoutSecs == 0 {
		o.TimeoutSecs = 120
	}
}
