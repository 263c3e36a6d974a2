package errorpattern

import (
	"fmt"
	"strings"
)

// FailureClass is a semantic classification of a failed command.
type FailureClass string

// Failure classes derived from Unix exit code conventions.
const (
	ClassNone          FailureClass = ""
	ClassGeneral       FailureClass = "general"        // exit 1
	ClassMisuse        FailureClass = "misuse"         // exit 2: shell builtin misuse
	ClassTimeout       FailureClass = "timeout"        // exit 124
	ClassNotExecutable FailureClass = "not_executable" // exit 126
	ClassNotFound      FailureClass = "not_found"      // exit 127
	ClassSignal        FailureClass = "signal"         // exit 128+N
	ClassSIGINT        FailureClass = "sigint"         // exit 130
	ClassSIGKILL       FailureClass = "sigkill"        // exit 137
	ClassSIGSEGV       FailureClass = "sigsegv"        // exit 139
	ClassPermission    FailureClass = "permission"     // permission denied in error output
	ClassUnknown       FailureClass = "unknown"
)

var defaultClasses = map[int]FailureClass{
	1:   ClassGeneral,
	2:   ClassMisuse,
	124: ClassTimeout,
	126: ClassNotExecutable,
	127: ClassNotFound,
	130: ClassSIGINT,
	137: ClassSIGKILL,
	139: ClassSIGSEGV,
}

var permissionHints = []string{"permission denied", "operation not permitted", "eacces"}

// Classifier maps exit codes and error output to failure classes.
type Classifier struct {
	custom map[int]FailureClass
}

// NewClassifier returns a classifier. Custom mappings take precedence over
// the defaults.
func NewClassifier(custom map[int]FailureClass) *Classifier {
	c := &Classifier{custom: make(map[int]FailureClass, len(custom))}
	for code, cls := range custom {
		c.custom[code] = cls
	}
	return c
}

// Classify returns the class for exitCode. A zero exit code has no class.
//
// Resolution order:
//  1. custom mapping
//  2. permission hints in errText
//  3. default mapping
//  4. signal range 128 < code < 192
//  5. ClassUnknown
func (c *Classifier) Classify(exitCode int, errText string) FailureClass {
	if exitCode == 0 {
		return ClassNone
	}
	if cls, ok := c.custom[exitCode]; ok {
		return cls
	}
	lower := strings.ToLower(errText)
	for _, h := range permissionHints {
		if strings.Contains(lower, h) {
			return ClassPermission
		}
	}
	if cls, ok := defaultClasses[exitCode]; ok {
		return cls
	}
	if IsSignalExit(exitCode) {
		return ClassSignal
	}
	return ClassUnknown
}

// Describe returns a one-line error text for a failure with no captured
// output, e.g. "exit 127 (not_found)".
func Describe(exitCode int, cls FailureClass) string {
	if n := SignalNumber(exitCode); n > 0 && cls == ClassSignal {
		return fmt.Sprintf("exit %d (%s %d)", exitCode, cls, n)
	}
	return fmt.Sprintf("exit %d (%s)", exitCode, cls)
}

// SignalNumber extracts N from an exit code of 128+N, or returns -1.
func SignalNumber(exitCode int) int {
	if IsSignalExit(exitCode) {
		return exitCode - 128
	}
	return -1
}

// IsSignalExit reports whether the exit code means the process was killed
// by a signal.
func IsSignalExit(exitCode int) bool {
	return exitCode > 128 && exitCode < 192
}
