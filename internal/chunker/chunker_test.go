package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	c := New(0, -1)
	assert.Equal(t, DefaultSize, c.Size())
	assert.Equal(t, 0, c.Overlap())

	c = New(10, 10)
	assert.Equal(t, 0, c.Overlap(), "overlap must be smaller than size")
	assert.Equal(t, 10, c.Step())

	c = Default()
	assert.Equal(t, 700, c.Step())
}

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, Default().Split(""))
}

func TestSplit_ShortText(t *testing.T) {
	chunks := Default().Split("package main")
	require.Len(t, chunks, 1)
	assert.Equal(t, "package main", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 12, chunks[0].End)
}

func TestSplit_Windows(t *testing.T) {
	c := New(10, 3)
	text := "abcdefghijklmnopqrstuvwxyz" // 26 bytes, step 7

	chunks := c.Split(text)
	require.Len(t, chunks, 4)

	assert.Equal(t, "abcdefghij", chunks[0].Text)
	assert.Equal(t, "hijklmnopq", chunks[1].Text)
	assert.Equal(t, "opqrstuvwx", chunks[2].Text)
	assert.Equal(t, "vwxyz", chunks[3].Text)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.NoError(t, ch.Validate())
	}
}

func TestText_RoundTrip(t *testing.T) {
	c := Default()
	text := strings.Repeat("func handler() { return nil }\n", 120)

	for _, ch := range c.Split(text) {
		got, ok := c.Text(text, ch.Index)
		require.True(t, ok)
		assert.Equal(t, ch.Text, got)

		start := ch.Index * (DefaultSize - DefaultOverlap)
		end := start + DefaultSize
		if end > len(text) {
			end = len(text)
		}
		assert.Equal(t, text[start:end], got)
	}
}

func TestText_OutOfRange(t *testing.T) {
	c := Default()
	_, ok := c.Text("short", 1)
	assert.False(t, ok)
	_, ok = c.Text("short", -1)
	assert.False(t, ok)
	_, ok = c.Text("", 0)
	assert.False(t, ok)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"src/app.PY", "python"},
		{"web/index.html", "html"},
		{"include/util.h", "c"},
		{"go.mod", "go-deps"},
		{"frontend/package.json", "javascript-deps"},
		{"requirements.txt", "python-deps"},
		{"LICENSE.md", LanguageText},
		{".venv/lib/_virtualenv.py", LanguageText},
		{"notes.txt", LanguageText},
		{"Makefile", LanguageText},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.path))
		})
	}
}

func TestIsIndexable(t *testing.T) {
	assert.True(t, IsIndexable("go"))
	assert.True(t, IsIndexable("go-deps"))
	assert.False(t, IsIndexable(LanguageText))
	assert.False(t, IsIndexable(""))

	assert.True(t, IsManifest("python-deps"))
	assert.False(t, IsManifest("python"))
}

func BenchmarkSplit(b *testing.B) {
	c := Default()
	text := strings.Repeat("x", 200000)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = c.Split(text)
	}
}

func TestSplit_MultiByteBoundary(t *testing.T) {
	c := New(5, 1)
	text := "abcdéfgh" // é spans bytes 4 and 5
	chunks := c.Split(text)
	require.Len(t, chunks, 3)

	for _, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Text), "chunk %d", ch.Index)
		got, ok := c.Text(text, ch.Index)
		require.True(t, ok)
		assert.Equal(t, ch.Text, got)
	}
	assert.Equal(t, "abcd\uFFFD", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 5, chunks[0].End)
	assert.Equal(t, 4, chunks[1].Start, "offsets stay in raw bytes")
	assert.Equal(t, "éfgh", chunks[1].Text)
}
