package embedder

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config holds embedder configuration. Exactly one provider is built from
// it; there is no fallback to a different provider at runtime.
type Config struct {
	Provider           string
	Model              string
	BaseURL            string
	APIKey             string
	Dimensions         int
	CacheSize          int
	RateLimitPerMinute int
	BreakerThreshold   int
	BreakerTimeout     time.Duration
	RequestTimeout     time.Duration
	Logger             *slog.Logger
}

// DefaultConfig returns the local provider with the standard guard settings
func DefaultConfig() Config {
	g := DefaultGuardConfig(ProviderLocal)
	return Config{
		Provider:           ProviderLocal,
		CacheSize:          10000,
		RateLimitPerMinute: g.RateLimitPerMinute,
		BreakerThreshold:   g.BreakerThreshold,
		BreakerTimeout:     g.BreakerTimeout,
	}
}

// New creates the embedder named by cfg.Provider
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(cfg.Provider)
	guard := NewGuard(GuardConfig{
		Name:               provider,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		BreakerThreshold:   cfg.BreakerThreshold,
		BreakerTimeout:     cfg.BreakerTimeout,
		Retry:              DefaultRetryConfig(),
		Logger:             cfg.Logger,
	})

	var (
		p   *RemoteProvider
		err error
	)
	switch provider {
	case ProviderLocal, "":
		if cfg.Dimensions > 0 {
			return NewLocalProviderWithDimension(cfg.Dimensions, cache)
		}
		return NewLocalProvider(cache)
	case ProviderJina:
		p, err = NewJinaProvider(cfg.APIKey, cache, guard)
	case ProviderOpenAI:
		p, err = NewOpenAIProvider(cfg.APIKey, cache, guard)
	case ProviderOllama:
		p, err = NewOllamaProvider(cfg.BaseURL, cfg.Model, cache, guard)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	// Explicit overrides on top of the provider defaults
	if cfg.Model != "" {
		p.cfg.Model = cfg.Model
	}
	if cfg.BaseURL != "" {
		p.cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Dimensions > 0 {
		p.cfg.Dimensions = cfg.Dimensions
		p.dim = cfg.Dimensions
	}
	if cfg.RequestTimeout > 0 {
		p.httpClient.Timeout = cfg.RequestTimeout
	}
	return p, nil
}
