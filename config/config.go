package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"kb/internal/domain"
)

// Config holds all configuration for the knowledge base engine and CLI.
type Config struct {
	Engine    EngineConfig               `yaml:"engine"`
	Defaults  domain.KnowledgeBaseConfig `yaml:"defaults"`
	Models    []domain.EmbeddingModel    `yaml:"models" validate:"min=1,dive"`
	Embedding EmbeddingConfig            `yaml:"embedding"`
	Cache     CacheConfig                `yaml:"cache"`
	Index     IndexConfig                `yaml:"index"`
	Store     StoreConfig                `yaml:"store"`
	Logging   LoggingConfig              `yaml:"logging"`
	Metrics   MetricsConfig              `yaml:"metrics"`
}

// EngineConfig holds retrieval service behaviour.
type EngineConfig struct {
	AutoCreateNamespaces bool `yaml:"auto_create_namespaces"`
	MaxDocumentChars     int  `yaml:"max_document_chars" validate:"gte=0"` // 0 = unlimited
}

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	Provider      string        `yaml:"provider" validate:"oneof=hash openai"`
	APIKeyEnv     string        `yaml:"api_key_env"` // Environment variable for API key
	BaseURL       string        `yaml:"base_url" validate:"omitempty,url"`
	BatchSize     int           `yaml:"batch_size" validate:"gt=0"`
	MaxConcurrent int           `yaml:"max_concurrent" validate:"gt=0"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
}

// CacheConfig holds embedding cache configuration.
type CacheConfig struct {
	Backend            string        `yaml:"backend" validate:"oneof=memory redis"`
	TTL                time.Duration `yaml:"ttl" validate:"gte=0"`
	MaxEntries         int           `yaml:"max_entries" validate:"gte=0"`          // 0 = unbounded
	CompactionInterval time.Duration `yaml:"compaction_interval" validate:"gte=0"` // 0 = lazy eviction only
	Redis              RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the shared cache connection.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db" validate:"gte=0"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// IndexConfig controls which files the CLI ingests.
type IndexConfig struct {
	Includes     []string `yaml:"includes"`
	Excludes     []string `yaml:"excludes"`
	MaxFileBytes int64    `yaml:"max_file_bytes" validate:"gte=0"`
}

// StoreConfig holds namespace persistence configuration.
type StoreConfig struct {
	Path string `yaml:"path"` // relative paths resolve against the project dir
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			AutoCreateNamespaces: false,
			MaxDocumentChars:     10_000_000,
		},
		Defaults: domain.KnowledgeBaseConfig{
			ChunkSize:           1000,
			ChunkOverlap:        200,
			EmbeddingModel:      "hash-384",
			SimilarityThreshold: 0.7,
			MaxResults:          10,
		},
		Models: []domain.EmbeddingModel{
			{Name: "hash-384", Dimension: 384, MaxTokens: 512, Pooling: domain.PoolingNone, Normalize: true},
			{Name: "hash-384-mean", Dimension: 384, MaxTokens: 512, Pooling: domain.PoolingMean, Normalize: true},
			{Name: "text-embedding-3-small", Dimension: 1536, MaxTokens: 8191, Pooling: domain.PoolingNone},
			{Name: "text-embedding-3-large", Dimension: 3072, MaxTokens: 8191, Pooling: domain.PoolingNone},
		},
		Embedding: EmbeddingConfig{
			Provider:      "hash",
			APIKeyEnv:     "OPENAI_API_KEY",
			BatchSize:     16,
			MaxConcurrent: 4,
			Timeout:       60 * time.Second,
		},
		Cache: CacheConfig{
			Backend:            "memory",
			TTL:                time.Hour,
			MaxEntries:         50_000,
			CompactionInterval: 10 * time.Minute,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "kb:emb:",
			},
		},
		Index: IndexConfig{
			Includes:     []string{"**/*.md", "**/*.txt", "**/*.rst", "**/*.adoc"},
			Excludes:     []string{"**/node_modules/**", "**/vendor/**", "**/.git/**", "**/.kb/**", "**/dist/**", "**/build/**"},
			MaxFileBytes: 5 << 20,
		},
		Store: StoreConfig{
			Path: filepath.Join(".kb", "namespaces.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9464",
		},
	}
}

// Validate checks field constraints and that the default model is in the
// catalog.
func (c *Config) Validate() error {
	if err := domain.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("invalid config: cache.redis.addr is required for the redis backend")
	}
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if seen[m.Name] {
			return fmt.Errorf("invalid config: duplicate model %q", m.Name)
		}
		seen[m.Name] = true
	}
	if !seen[c.Defaults.EmbeddingModel] {
		return fmt.Errorf("invalid config: default embedding model %q is not in models", c.Defaults.EmbeddingModel)
	}
	return nil
}

// Model returns the catalog entry for name.
func (c *Config) Model(name string) (domain.EmbeddingModel, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return domain.EmbeddingModel{}, false
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for kb.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "kb.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".kb", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// StorePath resolves the namespace database path against dir.
func (c *Config) StorePath(dir string) string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(dir, c.Store.Path)
}

// EnsureKBDir ensures the .kb directory exists.
func EnsureKBDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".kb"), 0755)
}
