package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/leapstack-labs/leaprepl/internal/shell"
)

// FormatError renders a diagnostic of unit as "<message> (row r, character c)".
// processed is the number of newlines in the units consumed before unit.
// Rows are 1-based; characters count runes since the last newline.
func FormatError(processed int, unit string, d shell.Diagnostic) string {
	p := min(max(d.Position, 0), len(unit))
	before := unit[:p]

	lineStart := 0
	for i := 0; i < len(before); i++ {
		if w := lineBreak(before, i); w > 0 {
			i += w - 1
			lineStart = i + 1
		}
	}
	row := processed + newlines(before) + 1
	char := utf8.RuneCountInString(before[lineStart:])
	return fmt.Sprintf("%s (row %d, character %d)", d.Message, row, char)
}

// formatDiagnostics joins the diagnostics of a rejected unit in runtime
// order.
func formatDiagnostics(processed int, sh shell.Shell, snippet *shell.Snippet) string {
	diags := sh.Diagnostics(snippet)
	if len(diags) == 0 {
		return fmt.Sprintf("unit rejected (row %d, character 0)", processed+1)
	}
	lines := make([]string, len(diags))
	for i, d := range diags {
		lines[i] = FormatError(processed, snippet.Source, d)
	}
	return strings.Join(lines, "\n")
}

// newlines counts line breaks in s. A lone "\n" or "\r" counts once, and
// so do the pairs "\r\n" and "\n\r".
func newlines(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if w := lineBreak(s, i); w > 0 {
			n++
			i += w - 1
		}
	}
	return n
}

// lineBreak returns the width of the line break starting at s[i], or 0.
func lineBreak(s string, i int) int {
	c := s[i]
	if c != '\n' && c != '\r' {
		return 0
	}
	if i+1 < len(s) && (s[i+1] == '\n' || s[i+1] == '\r') && s[i+1] != c {
		return 2
	}
	return 1
}
