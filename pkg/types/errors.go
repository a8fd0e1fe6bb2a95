package types

import "errors"

// Domain errors for type validation
var (
	// Project errors
	ErrInvalidStatus       = errors.New("invalid project status")
	ErrMissingProjectID    = errors.New("project id is required")
	ErrMissingDatabasePath = errors.New("project database path is required")

	// Search result errors
	ErrInvalidFileID = errors.New("invalid file ID")
	ErrInvalidRank   = errors.New("rank must be >= 1")
	ErrInvalidScore  = errors.New("score must be between -1 and 1")
	ErrMissingPath   = errors.New("file path is required")
	ErrEmptyContent  = errors.New("content cannot be empty")
)
