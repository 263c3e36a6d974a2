package workspace

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// envKeys are checked in order, first in the process environment and then
// in a .env file next to the command.
var envKeys = []string{"APP_ENV", "NODE_ENV", "GO_ENV", "RAILS_ENV", "ENVIRONMENT"}

func defaultGetenv(key string) string {
	return os.Getenv(key)
}

// detectEnv returns nil when no environment marker is set.
func detectEnv(dir string, getenv func(string) string) *EnvInfo {
	for _, k := range envKeys {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			return &EnvInfo{Environment: strings.ToLower(v)}
		}
	}
	if v := dotenvValue(filepath.Join(dir, ".env")); v != "" {
		return &EnvInfo{Environment: strings.ToLower(v)}
	}
	return nil
}

func dotenvValue(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	values := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	for _, k := range envKeys {
		if v := values[k]; v != "" {
			return v
		}
	}
	return ""
}
