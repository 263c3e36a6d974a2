// Package normalize maps raw commands to canonical pattern keys.
//
// Each argument is classified independently and the first matching rule
// wins:
//   - all digits            -> <number>
//   - 32+ alphanumeric run  -> <hash>
//   - leading "/"           -> <path>
//   - contains "@"          -> <email>
//
// Anything else, including dotted numerics such as 8.8.8.8 or 1.2.3, is
// kept verbatim. Output is deterministic and normalizing an already
// normalized key returns it unchanged.
package normalize

import (
	"regexp"
	"strings"

	"github.com/google/shlex"
)

// Placeholders substituted for variable arguments.
const (
	SlotNumber = "<number>"
	SlotHash   = "<hash>"
	SlotPath   = "<path>"
	SlotEmail  = "<email>"
)

// DefaultMaxCommandSize bounds the raw command length that is tokenized.
const DefaultMaxCommandSize = 10 * 1024

var (
	numberPattern = regexp.MustCompile(`^\d+$`)

	// hashPattern is unanchored: a URL ending in a 32-char digest is a hash.
	hashPattern = regexp.MustCompile(`[A-Za-z0-9]{32,}`)
)

// Arg classifies a single argument.
func Arg(arg string) string {
	switch {
	case numberPattern.MatchString(arg):
		return SlotNumber
	case hashPattern.MatchString(arg):
		return SlotHash
	case strings.HasPrefix(arg, "/"):
		return SlotPath
	case strings.Contains(arg, "@"):
		return SlotEmail
	default:
		return arg
	}
}

// Command normalizes a command and its already-split arguments into
// "<command> <a1> <a2> ...". Arguments that would not survive re-tokenizing
// are double-quoted.
func Command(command string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	if c := strings.TrimSpace(command); c != "" {
		parts = append(parts, c)
	}
	for _, a := range args {
		parts = append(parts, quote(Arg(a)))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Line tokenizes a raw command line and normalizes it. The first token is
// the command name.
func Line(raw string) string {
	raw, _ = Truncate(raw, DefaultMaxCommandSize)
	tokens := Tokenize(raw)
	if len(tokens) == 0 {
		return ""
	}
	return Command(tokens[0], tokens[1:])
}

// Tokenize splits a command line with shell quoting rules, falling back
// to whitespace splitting for unbalanced quotes.
func Tokenize(raw string) []string {
	tokens, err := shlex.Split(raw)
	if err == nil && len(tokens) > 0 {
		return tokens
	}
	return strings.Fields(raw)
}

// FirstToken returns the command name of a raw command line.
func FirstToken(raw string) string {
	tokens := Tokenize(raw)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0]
}

// Truncate caps raw at maxBytes, reporting whether it was cut.
// If maxBytes is <= 0, DefaultMaxCommandSize is used.
func Truncate(raw string, maxBytes int) (string, bool) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCommandSize
	}
	if len(raw) <= maxBytes {
		return raw, false
	}
	return raw[:maxBytes], true
}

// quote wraps tokens containing whitespace, quotes, escapes or a leading
// comment marker so that Tokenize yields them back unchanged.
func quote(tok string) string {
	if tok == "" {
		return `""`
	}
	if !strings.ContainsAny(tok, " \t\r\n\"'\\") && !strings.HasPrefix(tok, "#") {
		return tok
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(tok) + `"`
}
