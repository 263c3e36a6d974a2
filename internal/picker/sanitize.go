package picker

import (
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

// ansiRE matches CSI, OSC, charset designation and other two-byte
// escape sequences.
var ansiRE = regexp.MustCompile(`\x1b(?:` +
	`\[[0-9;?]*[A-Za-z]` +
	`|` +
	`\].*?(?:\x1b\\|\x07)` +
	`|` +
	`[()][A-B0-2]` +
	`|` +
	`[#*+\-./][A-Za-z0-9]` +
	`)`)

// StripANSI removes ANSI escape sequences from a string.
func StripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

// ValidateUTF8 replaces each run of invalid UTF-8 bytes with U+FFFD.
func ValidateUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// escapeLiterals are the spellings of ESC commonly typed into printf and
// echo commands.
var escapeLiterals = strings.NewReplacer(
	`\033[`, "<ESC>[",
	`\033]`, "<ESC>]",
	`\x1b[`, "<ESC>[",
	`\x1B[`, "<ESC>[",
	`\x1b]`, "<ESC>]",
	`\x1B]`, "<ESC>]",
	`\e[`, "<ESC>[",
	`\e]`, "<ESC>]",
)

// PrettyEscapeLiterals replaces literal escape spellings such as "\033["
// with a readable token. Display only: the result must never be executed.
func PrettyEscapeLiterals(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return escapeLiterals.Replace(s)
}

// oneLine folds a multi-line command onto one row.
func oneLine(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(s)
	return strings.TrimSpace(s)
}

// MiddleTruncate shortens s to maxWidth display columns by replacing its
// middle with an ellipsis, so both the command name and its final
// arguments stay visible. Widths below 3 truncate from the right.
func MiddleTruncate(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth < 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}

	const ellipsis = "…"
	remaining := maxWidth - 1
	head := runewidth.Truncate(s, (remaining+1)/2, "")
	return head + ellipsis + tailWidth(s, remaining/2)
}

// tailWidth returns the longest suffix of s at most maxWidth columns wide.
func tailWidth(s string, maxWidth int) string {
	runes := []rune(s)
	w, start := 0, len(runes)
	for i := len(runes) - 1; i >= 0; i-- {
		rw := runewidth.RuneWidth(runes[i])
		if w+rw > maxWidth {
			break
		}
		w += rw
		start = i
	}
	return string(runes[start:])
}
