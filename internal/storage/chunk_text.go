package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProjectPathKey is the metadata key holding the absolute project root
const ProjectPathKey = "project_path"

// GetChunkText reconstructs the text of one chunk by re-reading the file from
// disk and slicing it with the store's chunk geometry. Chunk text is never
// stored in the database.
//
// The stored path must resolve, after following symlinks, to a location
// inside the project root. Every failure, including a traversal attempt,
// reports ErrNotFound.
func (s *Store) GetChunkText(ctx context.Context, fileID int64, chunkIndex int) (string, error) {
	var relPath string
	err := s.db.QueryRowContext(ctx, "SELECT path FROM files WHERE id = ?", fileID).Scan(&relPath)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: file %d", ErrNotFound, fileID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: file %d: %v", ErrNotFound, fileID, err)
	}

	root, err := s.GetMetadata(ctx, ProjectPathKey)
	if err != nil || root == "" {
		return "", fmt.Errorf("%w: project path not recorded", ErrNotFound)
	}

	full, err := resolveWithin(root, relPath)
	if err != nil {
		s.logger.Warn("rejected chunk path", "path", relPath, "error", err)
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	text, ok := s.chunker.Text(string(content), chunkIndex)
	if !ok {
		return "", fmt.Errorf("%w: chunk %d of %s", ErrNotFound, chunkIndex, relPath)
	}
	return text, nil
}

// resolveWithin joins rel onto root and returns the real path, failing when
// rel is absolute or the result escapes root.
func resolveWithin(root, rel string) (string, error) {
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("absolute path %q", rel)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", err
	}

	candidate := filepath.Join(realRoot, filepath.FromSlash(rel))
	realCandidate, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", err
	}

	r, err := filepath.Rel(realRoot, realCandidate)
	if err != nil {
		return "", err
	}
	if r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes project root", rel)
	}
	return realCandidate, nil
}
