package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/codevec/internal/embedder"
	"github.com/dshills/codevec/internal/storage"
	"github.com/dshills/codevec/pkg/types"
)

const (
	DefaultTopK = 5
	MaxTopK     = 100

	defaultQueryCacheSize  = 1000
	defaultResultCacheSize = 256
	defaultResultTTL       = 10 * time.Minute
)

// ErrEmptyQuery is returned for a blank query
var ErrEmptyQuery = errors.New("query cannot be empty")

// Response is the outcome of one search
type Response struct {
	Results  []types.SearchResult
	Matches  int // Vector hits before dropping unreadable chunks
	Duration time.Duration
	CacheHit bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher embeds queries and resolves nearest neighbors to chunk text
type Searcher struct {
	embedder embedder.Embedder
	logger   *slog.Logger
	ttl      time.Duration

	queries *lru.Cache[[32]byte, []float32]
	results *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// Option configures a Searcher
type Option func(*Searcher)

// WithLogger sets the searcher logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithResultTTL sets how long a result set is reused; zero disables result caching
func WithResultTTL(ttl time.Duration) Option {
	return func(s *Searcher) {
		s.ttl = ttl
	}
}

// New creates a Searcher using emb for query vectors
func New(emb embedder.Embedder, opts ...Option) *Searcher {
	queries, err := lru.New[[32]byte, []float32](defaultQueryCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	results, err := lru.New[[32]byte, *cacheEntry](defaultResultCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	s := &Searcher{
		embedder: emb,
		logger:   slog.Default(),
		ttl:      defaultResultTTL,
		queries:  queries,
		results:  results,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns up to topK chunks of store nearest to query, best first.
// Hits whose text can no longer be read from disk are dropped.
func (s *Searcher) Search(ctx context.Context, store storage.Storage, query string, topK int) (*Response, error) {
	start := time.Now()

	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}
	if query == "" {
		return nil, ErrEmptyQuery
	}
	topK = clampTopK(topK)

	key := resultKey(store.Path(), query, topK)
	if cached := s.checkCache(key); cached != nil {
		cached.CacheHit = true
		cached.Duration = time.Since(start)
		return cached, nil
	}

	vector, err := s.queryVector(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	matches, err := store.SearchVectors(ctx, vector, topK)
	if err != nil {
		return nil, err
	}

	results, err := s.fetchResults(ctx, store, matches)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Results:  results,
		Matches:  len(matches),
		Duration: time.Since(start),
	}
	if len(results) > 0 {
		s.storeInCache(key, resp)
	}
	return resp, nil
}

// queryVector embeds query, reusing the vector of an identical earlier query
func (s *Searcher) queryVector(ctx context.Context, query string) ([]float32, error) {
	key := sha256.Sum256([]byte(query))
	if v, ok := s.queries.Get(key); ok {
		return v, nil
	}
	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, err
	}
	s.queries.Add(key, emb.Vector)
	return emb.Vector, nil
}

// fetchResults attaches chunk text and file language to each match
func (s *Searcher) fetchResults(ctx context.Context, store storage.Storage, matches []storage.VectorMatch) ([]types.SearchResult, error) {
	results := make([]types.SearchResult, 0, len(matches))
	languages := make(map[int64]string)

	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := store.GetChunkText(ctx, m.FileID, m.ChunkIndex)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			s.logger.Debug("dropping unreadable chunk", "path", m.Path, "chunk", m.ChunkIndex, "error", err)
			continue
		}

		lang, ok := languages[m.FileID]
		if !ok {
			if f, err := store.GetFile(ctx, m.FileID); err == nil {
				lang = f.Language
			}
			languages[m.FileID] = lang
		}

		results = append(results, types.SearchResult{
			Rank:       len(results) + 1,
			FileID:     m.FileID,
			Path:       m.Path,
			ChunkIndex: m.ChunkIndex,
			Score:      m.Score,
			Language:   lang,
			Content:    text,
		})
	}
	return results, nil
}

// checkCache returns a copy of a live cached response for key
func (s *Searcher) checkCache(key [32]byte) *Response {
	if s.ttl <= 0 {
		return nil
	}

	s.cacheMu.RLock()
	entry, found := s.results.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.results.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}
	resp := copyResponse(entry.response)
	s.cacheMu.RUnlock()
	return resp
}

func (s *Searcher) storeInCache(key [32]byte, resp *Response) {
	if s.ttl <= 0 {
		return
	}
	entry := &cacheEntry{
		response:  copyResponse(resp),
		expiresAt: time.Now().Add(s.ttl),
	}
	s.cacheMu.Lock()
	s.results.Add(key, entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops cached result sets. Query vectors stay cached since
// they do not depend on index contents.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.results.Purge()
	s.cacheMu.Unlock()
}

func copyResponse(src *Response) *Response {
	dst := *src
	dst.Results = append([]types.SearchResult(nil), src.Results...)
	return &dst
}

func resultKey(dbPath, query string, topK int) [32]byte {
	return sha256.Sum256([]byte(dbPath + "|" + strconv.Itoa(topK) + "|" + query))
}

func clampTopK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}
