package indexer

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultExclusions are applied to every run in addition to caller patterns
var DefaultExclusions = []string{".git", "*.gitignore", "*_cache", "LICENSE*", "*pre-commit*"}

// dependencyDirs are indexed even when .gitignore lists them
var dependencyDirs = []string{".venv", "venv", "node_modules"}

// candidate is one enumerated file
type candidate struct {
	Full string
	Rel  string // slash-separated, relative to the root
	Size int64
}

// excluder decides which relative paths are left out of a run
type excluder struct {
	patterns []string
	ignore   *gitignore.GitIgnore
}

func newExcluder(root string, extra []string) *excluder {
	e := &excluder{}
	e.patterns = append(e.patterns, DefaultExclusions...)
	e.patterns = append(e.patterns, extra...)

	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return e
	}

	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || isDependencyPattern(line) {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) > 0 {
		e.ignore = gitignore.CompileIgnoreLines(lines...)
	}
	return e
}

// isDependencyPattern reports whether an ignore line targets a dependency
// directory
func isDependencyPattern(line string) bool {
	p := strings.TrimPrefix(line, "/")
	for _, dep := range dependencyDirs {
		if p == dep || p == dep+"/" || strings.HasPrefix(p, dep+"/") || strings.HasPrefix(p, dep+"**") {
			return true
		}
	}
	return false
}

// excluded reports whether rel (slash-separated) is left out. A pattern
// matches as a directory prefix when it ends in "/", as a glob against the
// path or its base name, or as a literal substring.
func (e *excluder) excluded(rel string) bool {
	base := path.Base(rel)
	for _, p := range e.patterns {
		if strings.HasSuffix(p, "/") && strings.HasPrefix(rel, p) {
			return true
		}
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
		if strings.Contains(rel, p) {
			return true
		}
	}
	return e.ignore != nil && e.ignore.MatchesPath(rel)
}

// isDependencyFile reports whether rel lives in a dependency directory
func isDependencyFile(rel string) bool {
	return strings.Contains(rel, ".venv/") || strings.Contains(rel, "node_modules/")
}

// discover walks root and returns the files to process, project files first
// and dependency files last. Files over maxSize bytes are left out.
func discover(ctx context.Context, root string, maxSize int64, extra []string) ([]candidate, error) {
	ex := newExcluder(root, extra)

	var project, deps []candidate
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil || (maxSize > 0 && info.Size() > maxSize) {
			return nil
		}
		if ex.excluded(rel) || strings.Contains(rel, ".git/") {
			return nil
		}

		c := candidate{Full: p, Rel: rel, Size: info.Size()}
		if isDependencyFile(rel) {
			deps = append(deps, c)
		} else {
			project = append(project, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return append(project, deps...), nil
}
