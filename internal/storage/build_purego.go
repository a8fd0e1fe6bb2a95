//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// This file is compiled when building without CGO or with the purego tag.
// It uses a pure Go SQLite implementation; the vector SQL functions are
// provided by Go implementations registered in vecfunc_purego.go.
//
// Build command:
//   CGO_ENABLED=0 go build -tags "purego" ./...
//
// The pure Go implementation provides:
//   - No C compiler required
//   - Cross-platform compilation
//   - Slower vector operations (pure Go)
//   - Suitable for development, tests and smaller codebases
//
// Driver used: modernc.org/sqlite

import (
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates the native sqlite-vec extension is loaded
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

// encodeVector serializes a vector in sqlite-vec's float32 blob format
func encodeVector(v []float32) ([]byte, error) {
	return serializeVector(v), nil
}

// dsn builds a modernc.org/sqlite connection string
func dsn(path string, o connOptions) string {
	pragmas := []string{
		fmt.Sprintf("busy_timeout(%d)", o.busyTimeout.Milliseconds()),
		"foreign_keys(1)",
	}
	if !o.readOnly {
		pragmas = append(pragmas, "journal_mode(WAL)", "synchronous(NORMAL)")
	}

	parts := make([]string, 0, len(pragmas)+1)
	for _, p := range pragmas {
		parts = append(parts, "_pragma="+url.QueryEscape(p))
	}
	if o.readOnly {
		parts = append(parts, "mode=ro")
	}
	return "file:" + escapePath(path) + "?" + strings.Join(parts, "&")
}
