package types

// SearchResult represents a single nearest-neighbor hit with its chunk text
type SearchResult struct {
	Rank       int     `json:"rank"` // Position in result set (1-based)
	FileID     int64   `json:"file_id"`
	Path       string  `json:"path"` // Relative to project root
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"` // 1 - cosine distance, in [-1, 1]
	Language   string  `json:"language"`
	Content    string  `json:"content"`
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.FileID <= 0 {
		return ErrInvalidFileID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Score < -1 || sr.Score > 1 {
		return ErrInvalidScore
	}

	if sr.Path == "" {
		return ErrMissingPath
	}

	if sr.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
