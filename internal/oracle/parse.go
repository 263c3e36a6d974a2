package oracle

import "strings"

// maxParsedSuggestions caps the fixes taken from one response.
const maxParsedSuggestions = 5

// ParseDiagnosis splits a free-text response into an analysis paragraph
// and fix commands. Lines starting with "$ ", a list number or a bullet
// are fixes; everything before the first fix is analysis. Confidence
// decreases with list position.
func ParseDiagnosis(response string) (string, []Suggestion) {
	var analysis strings.Builder
	var fixes []Suggestion
	inFixes := false

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}

		if strings.HasPrefix(line, "$ ") || startsFixSection(line) {
			inFixes = true
			cmd := cleanCommandPrefix(line)
			if cmd == "" || len(fixes) >= maxParsedSuggestions {
				continue
			}
			fixes = append(fixes, Suggestion{
				Command:     cmd,
				Confidence:  max(0.1, 0.9-float64(len(fixes))*0.1),
				Destructive: IsDestructive(cmd),
			})
			continue
		}

		if !inFixes {
			if analysis.Len() > 0 {
				analysis.WriteString(" ")
			}
			analysis.WriteString(line)
		}
	}

	return strings.TrimSpace(analysis.String()), fixes
}

// startsFixSection reports whether line begins a numbered or bulleted item.
func startsFixSection(line string) bool {
	if len(line) < 2 {
		return false
	}
	if line[0] >= '1' && line[0] <= '9' {
		if line[1] == '.' || line[1] == ')' {
			return true
		}
		if len(line) >= 3 && line[1] >= '0' && line[1] <= '9' && (line[2] == '.' || line[2] == ')') {
			return true
		}
	}
	return strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ")
}

// cleanCommandPrefix removes list markers, prompts and backticks.
func cleanCommandPrefix(line string) string {
	if len(line) >= 2 && line[0] >= '1' && line[0] <= '9' {
		switch {
		case line[1] == '.' || line[1] == ')':
			line = line[2:]
		case len(line) >= 3 && line[1] >= '0' && line[1] <= '9' && (line[2] == '.' || line[2] == ')'):
			line = line[3:]
		}
	}
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "- ")
	line = strings.TrimPrefix(line, "* ")
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "$ ")
	line = strings.Trim(line, "`")
	line = strings.TrimPrefix(line, "$ ")
	return strings.TrimSpace(line)
}
