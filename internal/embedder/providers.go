package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	// Environment fallbacks for API keys
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"

	// Default endpoints (OpenAI-compatible /v1/embeddings)
	DefaultJinaURL   = "https://api.jina.ai"
	DefaultOpenAIURL = "https://api.openai.com"
	DefaultOllamaURL = "http://localhost:11434"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	OllamaDimension = 768
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 16
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// APIError is a non-200 response from an embedding API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RemoteConfig describes an OpenAI-compatible embeddings endpoint
type RemoteConfig struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int // Requested output size; 0 uses the model default
	Timeout    time.Duration
}

// RemoteProvider implements Embedder against any API that speaks the
// OpenAI embeddings format (OpenAI, Jina, Ollama's /v1 endpoint).
type RemoteProvider struct {
	cfg        RemoteConfig
	httpClient *http.Client
	cache      *Cache
	guard      *Guard

	mu  sync.Mutex
	dim int
}

// NewRemoteProvider creates a provider for cfg. guard may be nil.
func NewRemoteProvider(cfg RemoteConfig, cache *Cache, guard *Guard) (*RemoteProvider, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("%w: provider name required", ErrInvalidInput)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url required", ErrInvalidInput)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrUnsupportedModel)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &RemoteProvider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cache: cache,
		guard: guard,
		dim:   cfg.Dimensions,
	}, nil
}

// NewJinaProvider creates a Jina AI embedder
func NewJinaProvider(apiKey string, cache *Cache, guard *Guard) (*RemoteProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvJinaAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	p, err := NewRemoteProvider(RemoteConfig{
		Provider: ProviderJina,
		BaseURL:  DefaultJinaURL,
		APIKey:   apiKey,
		Model:    DefaultJinaModel,
	}, cache, guard)
	if err != nil {
		return nil, err
	}
	p.dim = JinaDimension
	return p, nil
}

// NewOpenAIProvider creates an OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache, guard *Guard) (*RemoteProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	p, err := NewRemoteProvider(RemoteConfig{
		Provider: ProviderOpenAI,
		BaseURL:  DefaultOpenAIURL,
		APIKey:   apiKey,
		Model:    DefaultOpenAIModel,
	}, cache, guard)
	if err != nil {
		return nil, err
	}
	p.dim = OpenAIDimension
	return p, nil
}

// NewOllamaProvider creates an embedder for a local Ollama server
func NewOllamaProvider(baseURL, model string, cache *Cache, guard *Guard) (*RemoteProvider, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return NewRemoteProvider(RemoteConfig{
		Provider: ProviderOllama,
		BaseURL:  baseURL,
		Model:    model,
	}, cache, guard)
}

func (p *RemoteProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text)
	if emb, ok := p.cache.Get(hash); ok {
		return emb, nil
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("%w: no embedding returned", ErrProviderFailed)
	}

	return resp.Embeddings[0], nil
}

func (p *RemoteProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	embeddings := make([]*Embedding, len(req.Texts))
	var (
		missing []string
		slots   []int
	)
	for i, text := range req.Texts {
		if emb, ok := p.cache.Get(ComputeHash(text)); ok {
			embeddings[i] = emb
			continue
		}
		missing = append(missing, text)
		slots = append(slots, i)
	}

	if len(missing) > 0 {
		fetched, err := guarded(ctx, p.guard, func() ([]*Embedding, error) {
			return p.callAPI(ctx, missing, model)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, p.cfg.Provider, err)
		}

		for j, emb := range fetched {
			if emb == nil {
				continue
			}
			emb.Hash = ComputeHash(missing[j])
			p.cache.Set(emb.Hash, emb)
			embeddings[slots[j]] = emb
			p.learnDimension(emb.Dimension)
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.cfg.Provider,
		Model:      model,
	}, nil
}

func (p *RemoteProvider) learnDimension(dim int) {
	p.mu.Lock()
	if p.dim == 0 {
		p.dim = dim
	}
	p.mu.Unlock()
}

// callAPI posts texts and returns one entry per text. Entries the response
// omits, and zero vectors, are nil.
func (p *RemoteProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": model,
	}
	if p.cfg.Dimensions > 0 {
		reqBody["dimensions"] = p.cfg.Dimensions
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	respModel := apiResp.Model
	if respModel == "" {
		respModel = model
	}

	embeddings := make([]*Embedding, len(texts))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			continue
		}
		if len(data.Embedding) == 0 || IsZeroVector(data.Embedding) {
			continue
		}
		embeddings[data.Index] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.cfg.Provider,
			Model:     respModel,
		}
	}

	return embeddings, nil
}

func (p *RemoteProvider) SupportsBatch() bool {
	return true
}

func (p *RemoteProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim
}

func (p *RemoteProvider) Provider() string {
	return p.cfg.Provider
}

func (p *RemoteProvider) Model() string {
	return p.cfg.Model
}

func (p *RemoteProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
