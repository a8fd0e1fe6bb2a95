// Package config loads codevec settings from defaults, an optional YAML file,
// a .env file and CODEVEC_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dshills/codevec/internal/agents"
	"github.com/dshills/codevec/internal/chunker"
	"github.com/dshills/codevec/internal/embedder"
	"github.com/dshills/codevec/internal/indexer"
	"github.com/dshills/codevec/internal/storage"
	"github.com/dshills/codevec/internal/writer"
)

const (
	// DefaultDataDir is the data directory under the user's home
	DefaultDataDir = ".codevec"
	// DefaultConfigFile is the config filename inside the data directory
	DefaultConfigFile = "config.yaml"
	// LocalConfigFile is the config filename looked up in the working directory
	LocalConfigFile = "codevec.yaml"
	// EnvPrefix prefixes every environment override
	EnvPrefix = "CODEVEC"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the application configuration
type Config struct {
	// DataDir holds registry.db and projects/<id>.db
	DataDir  string `mapstructure:"data_dir" yaml:"data_dir"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Indexing  IndexingConfig  `mapstructure:"indexing" yaml:"indexing"`
	Writer    WriterConfig    `mapstructure:"writer" yaml:"writer"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	Agents    AgentsConfig    `mapstructure:"agents" yaml:"agents"`

	// ConfigFile is the file the settings were read from, if any
	ConfigFile string `mapstructure:"-" yaml:"-"`
}

// IndexingConfig holds indexing pipeline settings
type IndexingConfig struct {
	FileWorkers          int           `mapstructure:"file_workers" yaml:"file_workers"`
	EmbeddingConcurrency int           `mapstructure:"embedding_concurrency" yaml:"embedding_concurrency"`
	EmbeddingBatchSize   int           `mapstructure:"embedding_batch_size" yaml:"embedding_batch_size"`
	EmbeddingTimeout     time.Duration `mapstructure:"embedding_timeout" yaml:"embedding_timeout"`
	FileTimeout          time.Duration `mapstructure:"file_timeout" yaml:"file_timeout"`
	ChunkSize            int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap         int           `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	MaxFileSize          int64         `mapstructure:"max_file_size" yaml:"max_file_size"`
	Exclude              []string      `mapstructure:"exclude" yaml:"exclude,omitempty"`
}

// WriterConfig holds persistence queue settings
type WriterConfig struct {
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

// StorageConfig holds SQLite settings
type StorageConfig struct {
	BusyTimeout   time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
	LockRetries   int           `mapstructure:"lock_retries" yaml:"lock_retries"`
	LockRetryBase time.Duration `mapstructure:"lock_retry_base" yaml:"lock_retry_base"`
}

// EmbeddingConfig holds embedding provider settings
type EmbeddingConfig struct {
	// Provider is one of "local", "openai", "jina", "ollama"
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	// APIKey falls back to OPENAI_API_KEY or JINA_API_KEY when empty
	APIKey             string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Dimensions         int           `mapstructure:"dimensions" yaml:"dimensions,omitempty"`
	CacheSize          int           `mapstructure:"cache_size" yaml:"cache_size"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	BreakerThreshold   int           `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout" yaml:"breaker_timeout"`
}

// AgentsConfig holds reconciliation agent settings
type AgentsConfig struct {
	SyncInterval  time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
	WatchInterval time.Duration `mapstructure:"watch_interval" yaml:"watch_interval"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	idx := indexer.DefaultOptions()
	wr := writer.DefaultConfig()
	st := storage.DefaultOptions()
	emb := embedder.DefaultConfig()

	dataDir := DefaultDataDir
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, DefaultDataDir)
	}

	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		Indexing: IndexingConfig{
			FileWorkers:          idx.FileWorkers,
			EmbeddingConcurrency: idx.EmbeddingConcurrency,
			EmbeddingBatchSize:   idx.EmbeddingBatchSize,
			EmbeddingTimeout:     idx.EmbeddingTimeout,
			FileTimeout:          idx.FileTimeout,
			ChunkSize:            idx.ChunkSize,
			ChunkOverlap:         idx.ChunkOverlap,
			MaxFileSize:          idx.MaxFileSize,
		},
		Writer: WriterConfig{
			Workers:     wr.Workers,
			WaitTimeout: wr.WaitTimeout,
			StopTimeout: wr.StopTimeout,
		},
		Storage: StorageConfig{
			BusyTimeout:   st.BusyTimeout,
			LockRetries:   st.LockRetries,
			LockRetryBase: st.LockRetryBase,
		},
		Embedding: EmbeddingConfig{
			Provider:           emb.Provider,
			CacheSize:          emb.CacheSize,
			RateLimitPerMinute: emb.RateLimitPerMinute,
			BreakerThreshold:   emb.BreakerThreshold,
			BreakerTimeout:     emb.BreakerTimeout,
		},
		Agents: AgentsConfig{
			SyncInterval:  agents.DefaultSyncInterval,
			WatchInterval: agents.DefaultWatchInterval,
			WatchDebounce: agents.DefaultWatchDebounce,
		},
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetDefault("indexing.file_workers", cfg.Indexing.FileWorkers)
	v.SetDefault("indexing.embedding_concurrency", cfg.Indexing.EmbeddingConcurrency)
	v.SetDefault("indexing.embedding_batch_size", cfg.Indexing.EmbeddingBatchSize)
	v.SetDefault("indexing.embedding_timeout", cfg.Indexing.EmbeddingTimeout)
	v.SetDefault("indexing.file_timeout", cfg.Indexing.FileTimeout)
	v.SetDefault("indexing.chunk_size", cfg.Indexing.ChunkSize)
	v.SetDefault("indexing.chunk_overlap", cfg.Indexing.ChunkOverlap)
	v.SetDefault("indexing.max_file_size", cfg.Indexing.MaxFileSize)
	v.SetDefault("indexing.exclude", []string{})

	v.SetDefault("writer.workers", cfg.Writer.Workers)
	v.SetDefault("writer.wait_timeout", cfg.Writer.WaitTimeout)
	v.SetDefault("writer.stop_timeout", cfg.Writer.StopTimeout)

	v.SetDefault("storage.busy_timeout", cfg.Storage.BusyTimeout)
	v.SetDefault("storage.lock_retries", cfg.Storage.LockRetries)
	v.SetDefault("storage.lock_retry_base", cfg.Storage.LockRetryBase)

	v.SetDefault("embedding.provider", cfg.Embedding.Provider)
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.cache_size", cfg.Embedding.CacheSize)
	v.SetDefault("embedding.rate_limit_per_minute", cfg.Embedding.RateLimitPerMinute)
	v.SetDefault("embedding.breaker_threshold", cfg.Embedding.BreakerThreshold)
	v.SetDefault("embedding.breaker_timeout", cfg.Embedding.BreakerTimeout)

	v.SetDefault("agents.sync_interval", cfg.Agents.SyncInterval)
	v.SetDefault("agents.watch_interval", cfg.Agents.WatchInterval)
	v.SetDefault("agents.watch_debounce", cfg.Agents.WatchDebounce)
}

// Load reads the configuration. configFile names an explicit YAML file;
// when empty, ~/.codevec/config.yaml and then ./codevec.yaml are tried.
// A .env file in the working directory is loaded first if present.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", configFile, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.ConfigFile = configFile
	cfg.DataDir = expandHome(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultDataDir, DefaultConfigFile))
	}
	candidates = append(candidates, LocalConfigFile)
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate clamps values to their floors and rejects settings that cannot work
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	d := DefaultConfig()
	if c.Indexing.ChunkSize <= 0 {
		c.Indexing.ChunkSize = chunker.DefaultSize
	}
	if c.Indexing.ChunkOverlap < 0 {
		c.Indexing.ChunkOverlap = 0
	}
	if c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			ErrInvalidConfig, c.Indexing.ChunkOverlap, c.Indexing.ChunkSize)
	}
	atLeast(&c.Indexing.FileWorkers, 1)
	atLeast(&c.Indexing.EmbeddingConcurrency, 1)
	atLeast(&c.Indexing.EmbeddingBatchSize, 1)
	if c.Indexing.EmbeddingBatchSize > embedder.MaxBatchSize {
		c.Indexing.EmbeddingBatchSize = embedder.MaxBatchSize
	}
	orDefault(&c.Indexing.EmbeddingTimeout, d.Indexing.EmbeddingTimeout)
	orDefault(&c.Indexing.FileTimeout, d.Indexing.FileTimeout)
	if c.Indexing.MaxFileSize <= 0 {
		c.Indexing.MaxFileSize = d.Indexing.MaxFileSize
	}

	atLeast(&c.Writer.Workers, 1)
	orDefault(&c.Writer.WaitTimeout, d.Writer.WaitTimeout)
	orDefault(&c.Writer.StopTimeout, d.Writer.StopTimeout)

	orDefault(&c.Storage.BusyTimeout, d.Storage.BusyTimeout)
	atLeast(&c.Storage.LockRetries, 1)
	orDefault(&c.Storage.LockRetryBase, d.Storage.LockRetryBase)

	c.Embedding.Provider = strings.ToLower(c.Embedding.Provider)
	switch c.Embedding.Provider {
	case embedder.ProviderLocal, embedder.ProviderOpenAI, embedder.ProviderJina, embedder.ProviderOllama:
	case "":
		c.Embedding.Provider = embedder.ProviderLocal
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("%w: embedding dimensions cannot be negative", ErrInvalidConfig)
	}

	c.Agents.SyncInterval = atLeastDuration(c.Agents.SyncInterval, agents.MinSyncInterval)
	c.Agents.WatchInterval = atLeastDuration(c.Agents.WatchInterval, agents.MinWatchInterval)
	c.Agents.WatchDebounce = atLeastDuration(c.Agents.WatchDebounce, agents.MinWatchDebounce)
	return nil
}

func atLeast(v *int, floor int) {
	if *v < floor {
		*v = floor
	}
}

func orDefault(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

func atLeastDuration(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}

// ParseLevel maps a log_level string onto a slog level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, s)
}

// RegistryDir returns the directory holding registry.db
func (c *Config) RegistryDir() string {
	return c.DataDir
}

// IndexerOptions converts the indexing settings
func (c *Config) IndexerOptions() indexer.Options {
	return indexer.Options{
		FileWorkers:          c.Indexing.FileWorkers,
		EmbeddingConcurrency: c.Indexing.EmbeddingConcurrency,
		EmbeddingBatchSize:   c.Indexing.EmbeddingBatchSize,
		EmbeddingTimeout:     c.Indexing.EmbeddingTimeout,
		FileTimeout:          c.Indexing.FileTimeout,
		MaxFileSize:          c.Indexing.MaxFileSize,
		ChunkSize:            c.Indexing.ChunkSize,
		ChunkOverlap:         c.Indexing.ChunkOverlap,
		Exclude:              append([]string(nil), c.Indexing.Exclude...),
	}
}

// StorageOptions converts the storage and writer settings
func (c *Config) StorageOptions(logger *slog.Logger) storage.Options {
	opts := storage.DefaultOptions()
	opts.ChunkSize = c.Indexing.ChunkSize
	opts.ChunkOverlap = c.Indexing.ChunkOverlap
	opts.BusyTimeout = c.Storage.BusyTimeout
	opts.LockRetries = c.Storage.LockRetries
	opts.LockRetryBase = c.Storage.LockRetryBase
	opts.Writer.Workers = c.Writer.Workers
	opts.Writer.BusyTimeout = c.Storage.BusyTimeout
	opts.Writer.WaitTimeout = c.Writer.WaitTimeout
	opts.Writer.StopTimeout = c.Writer.StopTimeout
	opts.Writer.Logger = logger
	opts.Logger = logger
	return opts
}

// EmbedderConfig converts the embedding settings
func (c *Config) EmbedderConfig(logger *slog.Logger) embedder.Config {
	return embedder.Config{
		Provider:           c.Embedding.Provider,
		Model:              c.Embedding.Model,
		BaseURL:            c.Embedding.BaseURL,
		APIKey:             c.Embedding.APIKey,
		Dimensions:         c.Embedding.Dimensions,
		CacheSize:          c.Embedding.CacheSize,
		RateLimitPerMinute: c.Embedding.RateLimitPerMinute,
		BreakerThreshold:   c.Embedding.BreakerThreshold,
		BreakerTimeout:     c.Embedding.BreakerTimeout,
		RequestTimeout:     c.Indexing.EmbeddingTimeout,
		Logger:             logger,
	}
}

// WatcherConfig converts the watcher settings
func (c *Config) WatcherConfig() agents.WatcherConfig {
	return agents.WatcherConfig{
		Interval: c.Agents.WatchInterval,
		Debounce: c.Agents.WatchDebounce,
	}
}

// YAML renders the effective configuration with secrets masked
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.Embedding.APIKey != "" {
		out.Embedding.APIKey = "****"
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
