package types

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an indexed project
type Status string

const (
	StatusCreated  Status = "created"
	StatusIndexing Status = "indexing"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusIndexing, StatusReady, StatusError:
		return true
	}
	return false
}

// ParseStatus converts a stored status string, rejecting unknown values
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Project is a registry record for one indexed source tree
type Project struct {
	ID            string
	Name          string
	Path          string // Absolute project root
	DatabasePath  string // Per-project vector database
	Status        Status
	CreatedAt     time.Time
	LastIndexedAt *time.Time
	Settings      string // Free-form JSON blob
}

// Validate checks the fields the reconciliation agents depend on
func (p *Project) Validate() error {
	if p.ID == "" {
		return ErrMissingProjectID
	}
	if p.DatabasePath == "" {
		return ErrMissingDatabasePath
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}
	return nil
}

// ProjectStats are the observed storage counters for a project database
type ProjectStats struct {
	FileCount      int
	EmbeddingCount int
}
