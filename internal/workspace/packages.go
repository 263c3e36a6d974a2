package workspace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxManifestBytes caps manifest files we are willing to parse.
const maxManifestBytes = 1 << 20

// lockfiles maps a lockfile to its package manager, most specific first.
var lockfiles = []struct {
	file    string
	manager string
}{
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"bun.lockb", "bun"},
	{"package-lock.json", "npm"},
	{"go.mod", "go"},
	{"Cargo.toml", "cargo"},
	{"Gemfile", "bundler"},
	{"poetry.lock", "poetry"},
	{"requirements.txt", "pip"},
	{"pyproject.toml", "pip"},
	{"composer.json", "composer"},
}

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// detectPackage identifies the package manager in dir and its declared
// dependency names. It returns nil when no manifest is present.
func detectPackage(dir string) (*PackageInfo, error) {
	manager := ""
	for _, lf := range lockfiles {
		if fileExists(filepath.Join(dir, lf.file)) {
			manager = lf.manager
			break
		}
	}
	hasPackageJSON := fileExists(filepath.Join(dir, "package.json"))
	if manager == "" && hasPackageJSON {
		manager = "npm"
	}
	if manager == "" {
		return nil, nil
	}

	info := &PackageInfo{Manager: manager}

	var deps []string
	var err error
	switch {
	case hasPackageJSON:
		deps, err = packageJSONDeps(filepath.Join(dir, "package.json"))
	case manager == "go":
		deps, err = goModDeps(filepath.Join(dir, "go.mod"))
	case manager == "pip" && fileExists(filepath.Join(dir, "requirements.txt")):
		deps, err = requirementsDeps(filepath.Join(dir, "requirements.txt"))
	}
	info.Dependencies = deps
	return info, err
}

func readManifest(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxManifestBytes {
		return nil, fmt.Errorf("%s too large (%d bytes)", filepath.Base(path), info.Size())
	}
	return os.ReadFile(path)
}

func packageJSONDeps(path string) ([]string, error) {
	data, err := readManifest(path)
	if err != nil {
		return nil, err
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}
	seen := make(map[string]bool)
	for name := range pkg.Dependencies {
		seen[name] = true
	}
	for name := range pkg.DevDependencies {
		seen[name] = true
	}
	return sortedKeys(seen), nil
}

// goModDeps lists module paths from require directives.
func goModDeps(path string) ([]string, error) {
	data, err := readManifest(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	inBlock := false
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == ")":
			inBlock = false
		case strings.HasPrefix(line, "require ("):
			inBlock = true
		case strings.HasPrefix(line, "require "):
			if f := strings.Fields(strings.TrimPrefix(line, "require ")); len(f) > 0 {
				seen[f[0]] = true
			}
		case inBlock && line != "" && !strings.HasPrefix(line, "//"):
			seen[strings.Fields(line)[0]] = true
		}
	}
	return sortedKeys(seen), sc.Err()
}

// requirementsDeps lists package names from a pip requirements file.
func requirementsDeps(path string) ([]string, error) {
	data, err := readManifest(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		name := line
		if i := strings.IndexAny(name, "=<>!~;[ "); i >= 0 {
			name = name[:i]
		}
		if name != "" {
			seen[strings.ToLower(name)] = true
		}
	}
	return sortedKeys(seen), sc.Err()
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
