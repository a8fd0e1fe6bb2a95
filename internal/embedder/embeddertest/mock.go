// Package embeddertest provides a deterministic Embedder for tests.
package embeddertest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/codevec/internal/embedder"
)

// Mock returns sha256-seeded unit vectors, so equal texts always embed to
// the same vector. Failures and delays can be injected per text.
type Mock struct {
	dim   int
	batch bool

	mu      sync.Mutex
	fail    func(text string) bool
	delay   func(text string) time.Duration
	callErr error

	singleCalls atomic.Int64
	batchCalls  atomic.Int64
	texts       atomic.Int64
}

// New creates a mock with the given dimension
func New(dim int) *Mock {
	return &Mock{dim: dim}
}

// WithBatch makes SupportsBatch report true
func (m *Mock) WithBatch() *Mock {
	m.batch = true
	return m
}

// FailWhen makes every text matching fn fail
func (m *Mock) FailWhen(fn func(text string) bool) *Mock {
	m.mu.Lock()
	m.fail = fn
	m.mu.Unlock()
	return m
}

// DelayWhen sleeps for the returned duration before embedding a text,
// honoring context cancellation
func (m *Mock) DelayWhen(fn func(text string) time.Duration) *Mock {
	m.mu.Lock()
	m.delay = fn
	m.mu.Unlock()
	return m
}

// FailCalls makes every batch call fail as a whole with err
func (m *Mock) FailCalls(err error) *Mock {
	m.mu.Lock()
	m.callErr = err
	m.mu.Unlock()
	return m
}

// SingleCalls returns the number of GenerateEmbedding calls
func (m *Mock) SingleCalls() int { return int(m.singleCalls.Load()) }

// BatchCalls returns the number of GenerateBatch calls
func (m *Mock) BatchCalls() int { return int(m.batchCalls.Load()) }

// Texts returns the number of texts embedded successfully
func (m *Mock) Texts() int { return int(m.texts.Load()) }

// Vector returns the vector the mock produces for text
func Vector(text string, dim int) []float32 {
	v := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))
	var norm float64
	for i := range v {
		block := sha256.Sum256(append(seed[:], byte(i), byte(i>>8)))
		x := float32(binary.LittleEndian.Uint32(block[:4]))/float32(math.MaxUint32) - 0.5
		v[i] = x
		norm += float64(x * x)
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

func (m *Mock) embed(ctx context.Context, text string) (*embedder.Embedding, error) {
	m.mu.Lock()
	fail, delay := m.fail, m.delay
	m.mu.Unlock()

	if delay != nil {
		if d := delay(text); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if fail != nil && fail(text) {
		return nil, fmt.Errorf("%w: injected failure", embedder.ErrProviderFailed)
	}

	m.texts.Add(1)
	return &embedder.Embedding{
		Vector:    Vector(text, m.dim),
		Dimension: m.dim,
		Provider:  "mock",
		Model:     "mock",
		Hash:      embedder.ComputeHash(text),
	}, nil
}

func (m *Mock) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	m.singleCalls.Add(1)
	if err := embedder.ValidateRequest(req); err != nil {
		return nil, err
	}
	return m.embed(ctx, req.Text)
}

func (m *Mock) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.batchCalls.Add(1)
	if err := embedder.ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	m.mu.Lock()
	callErr := m.callErr
	m.mu.Unlock()
	if callErr != nil {
		return nil, callErr
	}

	out := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := m.embed(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		out[i] = emb
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: out, Provider: "mock", Model: "mock"}, nil
}

func (m *Mock) SupportsBatch() bool { return m.batch }
func (m *Mock) Dimension() int      { return m.dim }
func (m *Mock) Provider() string    { return "mock" }
func (m *Mock) Model() string       { return "mock" }
func (m *Mock) Close() error        { return nil }

var _ embedder.Embedder = (*Mock)(nil)
