package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codevec/internal/embedder"
	"github.com/dshills/codevec/internal/embedder/embeddertest"
	"github.com/dshills/codevec/internal/storage"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "project.db"), storage.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.FileWorkers = 4
	opts.EmbeddingTimeout = 2 * time.Second
	opts.FileTimeout = 10 * time.Second
	return opts
}

func TestIndexProject_Basic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":          "package main\n\nfunc main() {}\n",
		"lib/util.py":      "def util():\n    return 1\n",
		"README.md":        "# Project\n",
		"notes.txt":        "plain text is not indexed",
		"LICENSE":          "MIT",
		"empty.go":         "",
		".git/config":      "[core]",
		"cache_dir/x.html": "<p>x</p>",
	})

	store := openStore(t)
	mock := embeddertest.New(8)
	idx := New(mock, testOptions())
	ctx := context.Background()

	res, err := idx.IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)

	assert.NotEmpty(t, res.TaskID)
	assert.Equal(t, 4, res.FilesProcessed, "main.go, util.py, README.md, x.html")
	assert.Equal(t, 4, res.FilesEmbedded)
	assert.Equal(t, 2, res.FilesSkipped, "notes.txt, empty.go")
	assert.Equal(t, 0, res.FilesFailed)
	assert.Equal(t, 4, res.ChunksEmbedded)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.FileCount)
	assert.Equal(t, 4, st.EmbeddingCount)

	meta, err := store.AllMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, meta[MetaProjectPath])
	assert.Equal(t, "4", meta[MetaFilesIndexed])
	assert.Equal(t, "4", meta[MetaFilesEmbedded])
	assert.Equal(t, "2", meta[MetaFilesSkipped])
	assert.Equal(t, "6", meta[MetaTotalFiles])
	assert.NotEmpty(t, meta[MetaLastIndexedAt])
	assert.NotEmpty(t, meta[MetaLastIndexDuration])
}

func TestIndexProject_Idempotent(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go":     "package a\n",
		"b.go":     "package b\n",
		"c/d.py":   "print('d')\n",
		"e/f.java": "class F {}\n",
	})

	store := openStore(t)
	idx := New(embeddertest.New(8), testOptions())
	ctx := context.Background()

	first, err := idx.IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, 4, first.FilesProcessed)

	second, err := idx.IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, second.FilesProcessed)
	assert.Equal(t, second.TotalFiles, second.FilesSkipped)
}

func TestIndexProject_IdempotentMixedTree(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":   "package main\n",
		"notes.txt": "not indexed",
		"empty.go":  "",
	})

	store := openStore(t)
	idx := New(embeddertest.New(8), testOptions())
	ctx := context.Background()

	first, err := idx.IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, first.TotalFiles)
	assert.Equal(t, 1, first.FilesProcessed)
	assert.Equal(t, 2, first.FilesSkipped)
	assert.Equal(t, 0, first.FilesFailed)

	second, err := idx.IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, second.FilesProcessed)
	assert.Equal(t, 3, second.TotalFiles)
	assert.Equal(t, second.TotalFiles, second.FilesSkipped)
}

func TestIndexProject_RetriesFailedFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.go": "package main\n\nfunc main() {}\n"})
	store := openStore(t)
	ctx := context.Background()

	down := embeddertest.New(8).FailWhen(func(string) bool { return true })
	res, err := New(down, testOptions()).IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesProcessed)
	assert.Equal(t, 0, res.FilesEmbedded)

	f, err := store.GetFileByPath(ctx, "main.go")
	require.NoError(t, err)
	assert.Nil(t, f.FileHash, "failed file must not look up to date")

	res, err = New(embeddertest.New(8), testOptions()).IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesProcessed)
	assert.Equal(t, 1, res.FilesEmbedded)
	assert.Equal(t, 0, res.FilesSkipped)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.EmbeddingCount)

	res, err = New(embeddertest.New(8), testOptions()).IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesSkipped, "complete file is skipped again")
}

func TestIndexProject_PartialFileIsRetried(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("a", 1000) + "FAIL" + strings.Repeat("b", 996)
	writeTree(t, root, map[string]string{"part.go": content})
	store := openStore(t)
	ctx := context.Background()

	flaky := embeddertest.New(8).FailWhen(func(text string) bool { return strings.Contains(text, "FAIL") })
	res, err := New(flaky, testOptions()).IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesEmbedded)
	assert.Equal(t, 1, res.ChunksFailed)

	res, err = New(embeddertest.New(8), testOptions()).IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesProcessed)
	assert.Equal(t, 0, res.ChunksFailed)
	assert.Equal(t, 3, res.ChunksEmbedded)
}

func TestIndexProject_ChangeDetection(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go": "package a\n",
		"b.go": "package b\n",
	})

	store := openStore(t)
	idx := New(embeddertest.New(8), testOptions())
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)

	t.Run("content change", func(t *testing.T) {
		writeTree(t, root, map[string]string{"a.go": "package a\n\nvar x = 1\n"})
		res, err := idx.IndexProject(ctx, root, store, Options{}, true)
		require.NoError(t, err)
		assert.Equal(t, 1, res.FilesProcessed)
		assert.Equal(t, 1, res.FilesSkipped)
	})

	t.Run("mtime only", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(root, "b.go"), future, future))
		res, err := idx.IndexProject(ctx, root, store, Options{}, true)
		require.NoError(t, err)
		assert.Equal(t, 1, res.FilesProcessed)
	})

	t.Run("full reindex", func(t *testing.T) {
		res, err := idx.IndexProject(ctx, root, store, Options{}, false)
		require.NoError(t, err)
		assert.Equal(t, 2, res.FilesProcessed)
		assert.Equal(t, 0, res.FilesSkipped)

		st, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, st.EmbeddingCount)
	})
}

func TestIndexProject_ChunkRoundTrip(t *testing.T) {
	root := t.TempDir()
	var b strings.Builder
	for i := 0; b.Len() < 3000; i++ {
		b.WriteString("func f")
		b.WriteString(strings.Repeat("x", i%7))
		b.WriteString("() {}\n")
	}
	content := b.String()
	writeTree(t, root, map[string]string{"big.go": content})

	store := openStore(t)
	idx := New(embeddertest.New(8), testOptions())
	ctx := context.Background()

	res, err := idx.IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)
	require.Equal(t, 1, res.FilesEmbedded)

	f, err := store.GetFileByPath(ctx, "big.go")
	require.NoError(t, err)
	n, err := store.CountChunks(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, res.ChunksEmbedded, n)

	for i := 0; i < n; i++ {
		start := i * 700
		end := start + 800
		if end > len(content) {
			end = len(content)
		}
		text, err := store.GetChunkText(ctx, f.ID, i)
		require.NoError(t, err)
		assert.Equal(t, content[start:end], text, "chunk %d", i)
	}
}

func TestIndexProject_SlowChunkDoesNotBlockSiblings(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("a", 1000) + "SLOW" + strings.Repeat("b", 996)
	writeTree(t, root, map[string]string{"slow.go": content})

	mock := embeddertest.New(8).DelayWhen(func(text string) time.Duration {
		if strings.Contains(text, "SLOW") {
			return 5 * time.Second
		}
		return 0
	})

	opts := testOptions()
	opts.EmbeddingTimeout = 50 * time.Millisecond
	store := openStore(t)
	idx := New(mock, opts)

	start := time.Now()
	res, err := idx.IndexProject(context.Background(), root, store, Options{}, true)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)

	assert.Equal(t, 1, res.FilesProcessed)
	assert.Equal(t, 1, res.FilesEmbedded)
	assert.Equal(t, 2, res.ChunksEmbedded)
	assert.Equal(t, 1, res.ChunksFailed)
	assert.Equal(t, 0, res.FilesFailed)
}

func TestIndexProject_BatchEmbedder(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"big.go": strings.Repeat("x", 5000)})

	t.Run("single call per sub-batch", func(t *testing.T) {
		mock := embeddertest.New(8).WithBatch()
		opts := testOptions()
		opts.EmbeddingBatchSize = 4
		idx := New(mock, opts)

		res, err := idx.IndexProject(context.Background(), root, openStore(t), Options{}, true)
		require.NoError(t, err)
		assert.Equal(t, 8, res.ChunksEmbedded)
		assert.Equal(t, 2, mock.BatchCalls())
		assert.Equal(t, 0, mock.SingleCalls())
	})

	t.Run("falls back to single calls", func(t *testing.T) {
		mock := embeddertest.New(8).WithBatch().FailCalls(errors.New("batch endpoint down"))
		idx := New(mock, testOptions())

		res, err := idx.IndexProject(context.Background(), root, openStore(t), Options{}, true)
		require.NoError(t, err)
		assert.Equal(t, 8, res.ChunksEmbedded)
		assert.Equal(t, 8, mock.SingleCalls())
	})

	t.Run("failed items", func(t *testing.T) {
		mock := embeddertest.New(8).FailWhen(func(string) bool { return true })
		idx := New(mock, testOptions())

		res, err := idx.IndexProject(context.Background(), root, openStore(t), Options{}, true)
		require.NoError(t, err)
		assert.Equal(t, 1, res.FilesProcessed, "file is stored")
		assert.Equal(t, 0, res.FilesEmbedded, "but not embedded")
		assert.Equal(t, 8, res.ChunksFailed)
	})
}

func TestIndexProject_DimensionMismatchIsPerChunk(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.go": "package a\n", "b.go": "package b\n"})

	store := openStore(t)
	ctx := context.Background()
	_, err := New(embeddertest.New(4), testOptions()).IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)

	writeTree(t, root, map[string]string{"a.go": "package a\n// changed\n"})
	res, err := New(embeddertest.New(6), testOptions()).IndexProject(ctx, root, store, Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesProcessed)
	assert.Equal(t, 0, res.FilesEmbedded)
	assert.Equal(t, 1, res.ChunksFailed)

	dim, err := store.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, dim)
}

func TestIndexProject_Dependencies(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"go.mod":                      "module x\n\nrequire (\n\tgithub.com/a/b v1.0.0\n\tgithub.com/c/d v1.0.0 // indirect\n)\n",
		"package.json":                `{"dependencies": {"react": "^18"}, "devDependencies": {"jest": "^29"}}`,
		"requirements.txt":            "Flask==2.0\n# comment\nrequests>=2\n-r other.txt\n",
		"node_modules/x/package.json": `{"dependencies": {"ignored": "1"}}`,
		"node_modules/x/index.js":     "module.exports = 1\n",
	})

	store := openStore(t)
	res, err := New(embeddertest.New(8), testOptions()).IndexProject(context.Background(), root, store, Options{}, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"github.com/a/b"}, res.Dependencies["go"])
	assert.Equal(t, []string{"jest", "react"}, res.Dependencies["javascript"])
	assert.Equal(t, []string{"flask", "requests"}, res.Dependencies["python"])

	meta, err := store.AllMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5", meta[MetaDirectDepsCount])

	var stored Dependencies
	require.NoError(t, json.Unmarshal([]byte(meta[MetaDependencies]), &stored))
	assert.Equal(t, res.Dependencies, stored)
}

func TestIndexProject_Deactivate(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.go": "package a\n", "go.mod": "module a\n"})

	var idx *Indexer
	mock := embeddertest.New(8).DelayWhen(func(string) time.Duration {
		idx.Active().Deactivate(root)
		return 0
	})
	idx = New(mock, testOptions())

	store := openStore(t)
	res, err := idx.IndexProject(context.Background(), root, store, Options{}, true)
	require.ErrorIs(t, err, ErrInactive)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.FilesEmbedded, "current stage completes")
	assert.Nil(t, res.Dependencies, "later stages do not run")

	_, err = store.GetMetadata(context.Background(), MetaDependencies)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, idx.Active().Active(root))
}

func TestIndexProject_InProgress(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.go": "package a\n"})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	mock := embeddertest.New(8).DelayWhen(func(string) time.Duration {
		once.Do(func() { close(started) })
		<-release
		return 0
	})
	idx := New(mock, testOptions())
	store := openStore(t)

	done := make(chan error, 1)
	go func() {
		_, err := idx.IndexProject(context.Background(), root, store, Options{}, true)
		done <- err
	}()

	<-started
	assert.Equal(t, []string{root}, idx.Active().Roots())
	_, err := idx.IndexProject(context.Background(), root, store, Options{}, true)
	assert.ErrorIs(t, err, ErrIndexInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Empty(t, idx.Active().Roots())
}

func TestIndexProject_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f.go")
	require.NoError(t, os.WriteFile(file, []byte("package f"), 0o644))

	idx := New(embeddertest.New(8), testOptions())
	_, err := idx.IndexProject(context.Background(), file, openStore(t), Options{}, true)
	assert.Error(t, err)

	_, err = idx.IndexProject(context.Background(), filepath.Join(t.TempDir(), "missing"), openStore(t), Options{}, true)
	assert.Error(t, err)
}

func TestTaskContext(t *testing.T) {
	task := NewTask("/x")
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StageEnumerate, task.Stage())

	ctx := WithTask(context.Background(), task)
	got, ok := TaskFrom(ctx)
	require.True(t, ok)
	assert.Same(t, task, got)

	task.SetStage(StageDeps)
	assert.Equal(t, StageDeps, got.Stage())

	_, ok = TaskFrom(context.Background())
	assert.False(t, ok)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", snippet("short"))

	long := strings.Repeat("a", SnippetSize-1) + "é" + "tail"
	s := snippet(long)
	assert.Equal(t, SnippetSize-1, len(s))
	assert.True(t, strings.HasPrefix(long, s))
}

func TestDefaultFileWorkers(t *testing.T) {
	n := DefaultFileWorkers()
	assert.GreaterOrEqual(t, n, 2)
	assert.LessOrEqual(t, n, 8)
}

var _ embedder.Embedder = (*embeddertest.Mock)(nil)
