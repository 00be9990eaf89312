package system

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// manifests are checked in order in each directory.
var manifests = []struct {
	name  string
	parse func([]byte) []string
}{
	{"go.mod", parseGoMod},
	{"package.json", parsePackageJSON},
	{"requirements.txt", parseRequirements},
}

// dependencies finds the nearest manifest from path's directory up to root
// (inclusive) and returns its dependency names sorted, deduplicated and
// comma-joined.
func dependencies(fs afero.Fs, path, root string) string {
	if path == "" {
		return ""
	}
	dir := filepath.Clean(path)
	if info, err := fs.Stat(dir); err != nil || !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	root = filepath.Clean(root)

	for {
		for _, m := range manifests {
			data, err := afero.ReadFile(fs, filepath.Join(dir, m.name))
			if err != nil {
				continue
			}
			return fingerprint(m.parse(data))
		}
		if root == "." || dir == root || !strings.HasPrefix(dir, root) {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func fingerprint(names []string) string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func parseGoMod(data []byte) []string {
	var names []string
	inBlock := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "//"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "require ("):
			inBlock = true
		case inBlock && line == ")":
			inBlock = false
		case inBlock:
			names = append(names, strings.Fields(line)[0])
		case strings.HasPrefix(line, "require "):
			if f := strings.Fields(line); len(f) >= 2 {
				names = append(names, f[1])
			}
		}
	}
	return names
}

func parsePackageJSON(data []byte) []string {
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}
	var names []string
	for n := range pkg.Dependencies {
		names = append(names, n)
	}
	for n := range pkg.DevDependencies {
		names = append(names, n)
	}
	return names
}

func parseRequirements(data []byte) []string {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if i := strings.IndexAny(line, "=<>~![;@ "); i >= 0 {
			line = line[:i]
		}
		names = append(names, strings.ToLower(line))
	}
	return names
}
