package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"created", "indexing", "ready", "error"} {
		st, err := ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, Status(s), st)
	}

	_, err := ParseStatus("stalled")
	assert.True(t, errors.Is(err, ErrInvalidStatus))
}

func TestProjectValidate(t *testing.T) {
	p := &Project{ID: "abc", DatabasePath: "/tmp/abc.db", Status: StatusCreated}
	assert.NoError(t, p.Validate())

	p.ID = ""
	assert.ErrorIs(t, p.Validate(), ErrMissingProjectID)

	p.ID = "abc"
	p.DatabasePath = ""
	assert.ErrorIs(t, p.Validate(), ErrMissingDatabasePath)

	p.DatabasePath = "/tmp/abc.db"
	p.Status = "unknown"
	assert.ErrorIs(t, p.Validate(), ErrInvalidStatus)
}

func TestSearchResultValidate(t *testing.T) {
	sr := &SearchResult{Rank: 1, FileID: 7, Path: "main.go", Score: -0.25, Content: "package main"}
	assert.NoError(t, sr.Validate(), "negative scores are legal")

	sr.Score = 1.5
	assert.ErrorIs(t, sr.Validate(), ErrInvalidScore)

	sr.Score = 0.5
	sr.Rank = 0
	assert.ErrorIs(t, sr.Validate(), ErrInvalidRank)
}

func TestChunkValidate(t *testing.T) {
	c := &Chunk{Index: 0, Start: 0, End: 5, Text: "hello"}
	assert.NoError(t, c.Validate())
	assert.Equal(t, 5, c.Len())

	c.End = 4
	assert.Error(t, c.Validate())
}
