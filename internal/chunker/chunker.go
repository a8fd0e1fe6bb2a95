package chunker

import (
	"path/filepath"
	"strings"

	"github.com/dshills/codevec/pkg/types"
)

const (
	// DefaultSize is the chunk window length in bytes
	DefaultSize = 800
	// DefaultOverlap is the number of bytes shared by consecutive windows
	DefaultOverlap = 100
)

// Chunker splits text into overlapping fixed-size windows.
// The same arithmetic is used to recover a window from its index, so a
// Chunker must be configured identically wherever chunks are written and read.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. Non-positive sizes fall back to DefaultSize and an
// overlap outside [0, size) falls back to zero.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}
}

// Default returns a Chunker using DefaultSize and DefaultOverlap
func Default() *Chunker {
	return New(DefaultSize, DefaultOverlap)
}

// Size returns the window length
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap between windows
func (c *Chunker) Overlap() int { return c.overlap }

// Step returns the distance between the starts of consecutive windows
func (c *Chunker) Step() int {
	step := c.size - c.overlap
	if step < 1 {
		return 1
	}
	return step
}

// Span returns the [start, end) byte range of chunk index for a text of the
// given length. ok is false when the index lies outside the text.
func (c *Chunker) Span(index, length int) (start, end int, ok bool) {
	if index < 0 || length <= 0 {
		return 0, 0, false
	}
	start = index * c.Step()
	if start >= length {
		return 0, 0, false
	}
	end = start + c.size
	if end > length {
		end = length
	}
	return start, end, true
}

// Count returns how many windows a text of the given length produces
func (c *Chunker) Count(length int) int {
	if length <= 0 {
		return 0
	}
	step := c.Step()
	return (length + step - 1) / step
}

// Split cuts text into windows. Empty text yields no chunks.
func (c *Chunker) Split(text string) []types.Chunk {
	n := c.Count(len(text))
	chunks := make([]types.Chunk, 0, n)
	for i := 0; i < n; i++ {
		start, end, _ := c.Span(i, len(text))
		chunks = append(chunks, types.Chunk{
			Index: i,
			Start: start,
			End:   end,
			Text:  validText(text[start:end]),
		})
	}
	return chunks
}

// Text returns the text of chunk index, or false when it does not exist
func (c *Chunker) Text(content string, index int) (string, bool) {
	start, end, ok := c.Span(index, len(content))
	if !ok {
		return "", false
	}
	return validText(content[start:end]), true
}

// validText replaces byte sequences cut by a window edge, or invalid in the
// source, with U+FFFD. Offsets always refer to the raw bytes.
func validText(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// LanguageText marks files that are never indexed
const LanguageText = "text"

var extLanguages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".java": "java",
	".go":   "go",
	".rs":   "rust",
	".c":    "c",
	".cpp":  "cpp",
	".h":    "c",
	".html": "html",
	".css":  "css",
	".md":   "markdown",
}

// manifests map dependency manifest file names to a "<lang>-deps" language
var manifests = map[string]string{
	"requirements.txt": "python-deps",
	"pyproject.toml":   "python-deps",
	"package.json":     "javascript-deps",
	"Cargo.toml":       "rust-deps",
	"Cargo.lock":       "rust-deps",
	"go.mod":           "go-deps",
	"go.sum":           "go-deps",
	"pom.xml":          "java-deps",
	"build.gradle":     "java-deps",
}

// generated virtualenv and license files that are never worth embedding
var textMarkers = []string{"LICENSE.md", "__editable__", "_virtualenv.py", "activate_this.py"}

// DetectLanguage maps a path to a language name, a "<lang>-deps" manifest
// type, or LanguageText.
func DetectLanguage(path string) string {
	for _, marker := range textMarkers {
		if strings.Contains(path, marker) {
			return LanguageText
		}
	}
	base := filepath.Base(path)
	if lang, ok := manifests[base]; ok {
		return lang
	}
	if lang, ok := extLanguages[strings.ToLower(filepath.Ext(base))]; ok {
		return lang
	}
	return LanguageText
}

// IsIndexable reports whether files of this language are chunked and embedded
func IsIndexable(lang string) bool {
	return lang != "" && lang != LanguageText
}

// IsManifest reports whether lang names a dependency manifest
func IsManifest(lang string) bool {
	return strings.HasSuffix(lang, "-deps")
}
