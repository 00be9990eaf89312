package event

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ignoreFiles are read from the workspace root in order.
var ignoreFiles = []string{".gitignore", ".pulseignore"}

// Matcher decides whether a path under root is excluded from tracking.
type Matcher struct {
	root     string
	patterns []string
}

// LoadMatcher merges the configured patterns with those from .gitignore and
// .pulseignore in root. The .git directory is always ignored.
func LoadMatcher(fs afero.Fs, root string, configured []string) (*Matcher, error) {
	patterns := append([]string{".git"}, configured...)
	for _, name := range ignoreFiles {
		extra, err := readPatternFile(fs, filepath.Join(root, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return &Matcher{root: root, patterns: patterns}, err
		}
		patterns = append(patterns, extra...)
	}
	return &Matcher{root: root, patterns: patterns}, nil
}

// Ignored reports whether path matches any pattern. Patterns are tried
// against the base name, the root-relative path, and every directory
// segment, so "node_modules/" excludes everything beneath it.
func (m *Matcher) Ignored(path string) bool {
	rel := path
	if m.root != "" {
		if r, err := filepath.Rel(m.root, path); err == nil {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)
	segments := strings.Split(rel, "/")

	for _, raw := range m.patterns {
		pattern := strings.TrimSuffix(strings.TrimPrefix(raw, "/"), "/")
		if pattern == "" || strings.HasPrefix(pattern, "!") {
			continue
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
		for _, seg := range segments {
			if matched, _ := filepath.Match(pattern, seg); matched {
				return true
			}
		}
	}
	return false
}

// readPatternFile reads a gitignore-style file and returns non-empty, non-comment lines.
func readPatternFile(fs afero.Fs, path string) ([]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}
