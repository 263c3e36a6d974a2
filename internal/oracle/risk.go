package oracle

import (
	"regexp"
	"strings"
)

// destructivePatterns flag suggestions that delete data or kill work.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*[rf]`),
	regexp.MustCompile(`(?i)\bDROP\s+(TABLE|DATABASE)\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\b`),
	regexp.MustCompile(`\bgit\s+push\s+.*(-f\b|--force)`),
	regexp.MustCompile(`\bgit\s+reset\s+--hard\b`),
	regexp.MustCompile(`\bgit\s+clean\s+-[a-zA-Z]*[fd]`),
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]*R\s+)?777\b`),
	regexp.MustCompile(`\bdd\s+.*of=/dev/`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bkill(all)?\s+-9\b`),
	regexp.MustCompile(`\bdocker\s+(system|volume)\s+prune\b`),
	regexp.MustCompile(`\bkubectl\s+delete\b`),
}

// IsDestructive reports whether command matches a destructive pattern.
func IsDestructive(command string) bool {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return false
	}
	for _, re := range destructivePatterns {
		if re.MatchString(cmd) {
			return true
		}
	}
	return false
}
