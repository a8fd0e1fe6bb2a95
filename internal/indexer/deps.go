package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
)

// Dependencies maps an ecosystem ("go", "javascript", "python") to the
// direct dependency names its manifests declare
type Dependencies map[string][]string

// Count returns the total number of names
func (d Dependencies) Count() int {
	n := 0
	for _, names := range d {
		n += len(names)
	}
	return n
}

type manifestParser func(content []byte) ([]string, error)

var manifestParsers = map[string]struct {
	ecosystem string
	parse     manifestParser
}{
	"go.mod":           {"go", parseGoMod},
	"package.json":     {"javascript", parsePackageJSON},
	"requirements.txt": {"python", parseRequirements},
}

// extractDependencies parses every project manifest among files. Files in
// dependency directories are ignored so vendored manifests do not count.
func extractDependencies(files []candidate) (Dependencies, []error) {
	sets := make(map[string]map[string]struct{})
	var errs []error

	for _, f := range files {
		if isDependencyFile(f.Rel) {
			continue
		}
		mp, ok := manifestParsers[path.Base(f.Rel)]
		if !ok {
			continue
		}
		content, err := os.ReadFile(f.Full)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Rel, err))
			continue
		}
		names, err := mp.parse(content)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Rel, err))
			continue
		}
		if sets[mp.ecosystem] == nil {
			sets[mp.ecosystem] = make(map[string]struct{})
		}
		for _, n := range names {
			sets[mp.ecosystem][n] = struct{}{}
		}
	}

	deps := make(Dependencies, len(sets))
	for eco, set := range sets {
		names := make([]string, 0, len(set))
		for n := range set {
			names = append(names, n)
		}
		sort.Strings(names)
		deps[eco] = names
	}
	return deps, errs
}

// parseGoMod returns the module paths of require directives that are not
// marked indirect
func parseGoMod(content []byte) ([]string, error) {
	var (
		names   []string
		inBlock bool
	)
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "" || strings.HasPrefix(line, "//"):
			continue
		case strings.HasPrefix(line, "require ("):
			inBlock = true
			continue
		case inBlock && line == ")":
			inBlock = false
			continue
		case strings.HasPrefix(line, "require "):
			line = strings.TrimSpace(strings.TrimPrefix(line, "require"))
		case !inBlock:
			continue
		}

		if strings.Contains(line, "// indirect") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			names = append(names, fields[0])
		}
	}
	return names, nil
}

// parsePackageJSON returns the keys of dependencies and devDependencies
func parsePackageJSON(content []byte) ([]string, error) {
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(content, &pkg); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(pkg.Dependencies)+len(pkg.DevDependencies))
	for n := range pkg.Dependencies {
		names = append(names, n)
	}
	for n := range pkg.DevDependencies {
		names = append(names, n)
	}
	return names, nil
}

var requirementName = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)

// parseRequirements returns the distribution names in a pip requirements
// file, skipping options, URLs and comments
func parseRequirements(content []byte) ([]string, error) {
	var names []string
	for _, line := range strings.Split(string(content), "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") || strings.Contains(line, "://") {
			continue
		}
		if m := requirementName.FindStringSubmatch(line); m != nil {
			names = append(names, strings.ToLower(m[1]))
		}
	}
	return names, nil
}
