package oracle

import "regexp"

type secretPattern struct {
	re          *regexp.Regexp
	replacement string
}

// secretPatterns are applied in order before any oracle call.
var secretPatterns = []secretPattern{
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[AWS_ACCESS_KEY_REDACTED]"},
	{regexp.MustCompile(`(?i)(aws_secret_access_key|secret_access_key)\s*[=:]\s*\S+`), "$1=[REDACTED]"},
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), "[JWT_REDACTED]"},
	{regexp.MustCompile(`xox[baprs]-[0-9a-zA-Z-]+`), "[SLACK_TOKEN_REDACTED]"},
	{regexp.MustCompile(`-----BEGIN [A-Z ]+-----[\s\S]+?-----END [A-Z ]+-----`), "[PEM_BLOCK_REDACTED]"},
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`), "[GITHUB_TOKEN_REDACTED]"},
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{20,}`), "Bearer [TOKEN_REDACTED]"},
	{regexp.MustCompile(`(?i)basic\s+[A-Za-z0-9+/=]{20,}`), "Basic [CREDENTIALS_REDACTED]"},
	{regexp.MustCompile(`(?i)(private[_-]?key|password|passwd|token|secret|api[_-]?key)\s*[=:]\s*\S+`), "$1=[REDACTED]"},
	{regexp.MustCompile(`(://[^:/\s]+:)[^@/\s]+@`), "${1}[REDACTED]@"},
}

// Redactor replaces secrets with placeholders.
type Redactor struct {
	patterns []secretPattern
}

// NewRedactor returns a Redactor with the built-in patterns.
func NewRedactor() *Redactor {
	return &Redactor{patterns: secretPatterns}
}

// Redact returns input with every known secret form replaced.
func (r *Redactor) Redact(input string) string {
	if input == "" {
		return input
	}
	for _, p := range r.patterns {
		input = p.re.ReplaceAllString(input, p.replacement)
	}
	return input
}
