package workspace

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxScanDepth limits how many parent directories are scanned upward.
const maxScanDepth = 10

// OverrideFile is the per-project file that pins project types.
const OverrideFile = ".cmdintel/project.yaml"

type marker struct {
	name        string
	projectType string
	isDir       bool
}

var builtinMarkers = []marker{
	{name: "go.mod", projectType: "go"},
	{name: "Cargo.toml", projectType: "rust"},
	{name: "package.json", projectType: "node"},
	{name: "pyproject.toml", projectType: "python"},
	{name: "setup.py", projectType: "python"},
	{name: "Gemfile", projectType: "ruby"},
	{name: "pom.xml", projectType: "java"},
	{name: "build.gradle", projectType: "java"},
	{name: "CMakeLists.txt", projectType: "cpp"},
	{name: "Makefile", projectType: "make"},
	{name: "Dockerfile", projectType: "docker"},
	{name: ".terraform", projectType: "terraform", isDir: true},
	{name: "flake.nix", projectType: "nix"},
}

type overrideConfig struct {
	ProjectTypes []string `yaml:"project_types"`
}

// detectMarkers scans upward from dir for marker files. An override file
// found on the way replaces marker detection entirely.
func detectMarkers(dir string) []string {
	if types := readOverride(dir); len(types) > 0 {
		return types
	}

	seen := make(map[string]bool)
	var types []string
	cur := filepath.Clean(dir)
	for depth := 0; depth < maxScanDepth; depth++ {
		for _, m := range builtinMarkers {
			if seen[m.projectType] || !markerExists(cur, m) {
				continue
			}
			seen[m.projectType] = true
			types = append(types, m.projectType)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return types
}

func markerExists(dir string, m marker) bool {
	info, err := os.Stat(filepath.Join(dir, m.name))
	if err != nil {
		return false
	}
	return info.IsDir() == m.isDir
}

func readOverride(dir string) []string {
	cur := filepath.Clean(dir)
	for depth := 0; depth < maxScanDepth; depth++ {
		if data, err := os.ReadFile(filepath.Join(cur, OverrideFile)); err == nil {
			if types := parseOverride(data); len(types) > 0 {
				return types
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return nil
}

func parseOverride(data []byte) []string {
	var cfg overrideConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil
	}
	var types []string
	seen := make(map[string]bool)
	for _, t := range cfg.ProjectTypes {
		t = strings.TrimSpace(t)
		if t != "" && !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	return types
}
