// Package embedder turns text into fixed-length vectors.
//
// One provider is chosen when the embedder is constructed:
//
//	emb, err := embedder.New(embedder.Config{Provider: "openai", Model: "text-embedding-3-small"})
//
// Providers:
//   - openai, jina: hosted OpenAI-compatible /v1/embeddings APIs; the API key
//     comes from Config.APIKey or OPENAI_API_KEY / JINA_API_KEY
//   - ollama: a local Ollama server through its OpenAI-compatible endpoint
//   - local: offline feature hashing, 384 dimensions by default
//
// # Batches
//
// GenerateBatch returns one entry per input text. A nil entry means that
// text failed (or came back as a zero vector); the other entries are still
// valid. An error from GenerateBatch means the call as a whole failed.
//
// # Remote call policy
//
// Remote calls go through a Guard: a token bucket limits calls to 100 per
// minute, a circuit breaker opens after 5 consecutive failures and rejects
// calls for 60 seconds, and failed attempts are retried 3 times with
// backoff from 100ms doubling up to 5s. Client errors other than 429 and an
// open circuit are not retried.
//
// # Caching
//
// Successful embeddings are cached in an LRU keyed by the SHA-256 of the
// text. Cache hits return copies.
package embedder
