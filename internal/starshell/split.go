package starshell

import (
	"io"
	"strings"

	"github.com/leapstack-labs/leaprepl/internal/shell"
)

// Split finds the leading unit of src.
//
// Simple statements end at a top-level newline or semicolon. Trailing
// spaces, a trailing comment and any following blank lines stay with the
// statement so that consecutive units concatenate back to src exactly.
// Compound statements (def, if, for, while) run until the next line at
// column 0 that is not an elif/else clause. A unit that reaches the end of
// src is handed to the Starlark parser one line at a time, as a prompt
// would feed it, and is incomplete when the parser asks for another line.
func Split(src string) shell.Analysis {
	start, ok := skipBlankLines(src, 0)
	if !ok {
		return shell.Analysis{Remaining: src, Completeness: shell.Empty}
	}

	var end int
	if isCompound(leadingWord(src[start:])) {
		end = splitCompound(src, start)
	} else {
		end = splitSimple(src, start)
	}

	analysis := shell.Analysis{
		Source:       src[:end],
		Remaining:    src[end:],
		Completeness: shell.Complete,
		Import:       isLoad(src[start:]),
	}
	if end == len(src) && awaitsInput(src[start:]) {
		analysis.Completeness = shell.Incomplete
	}
	return analysis
}

// Unfinished reports whether src ends inside a unit that needs more lines.
func Unfinished(src string) bool {
	for {
		a := Split(src)
		switch a.Completeness {
		case shell.Empty:
			return false
		case shell.Incomplete:
			return true
		}
		if a.Remaining == "" {
			return false
		}
		src = a.Remaining
	}
}

// awaitsInput reports whether parsing unit as one interactive chunk runs
// out of lines before the statement ends. Syntax errors are not reported
// here; the unit is evaluated and the parser locates them.
func awaitsInput(unit string) bool {
	if !strings.HasSuffix(unit, "\n") {
		unit += "\n"
	}
	rest := unit
	exhausted := false
	readline := func() ([]byte, error) {
		if rest == "" {
			exhausted = true
			return nil, io.EOF
		}
		n := strings.IndexByte(rest, '\n') + 1
		line := rest[:n]
		rest = rest[n:]
		return []byte(line), nil
	}
	_, err := fileOptions.ParseCompoundStmt("<input>", readline)
	return err != nil && exhausted
}

func splitSimple(src string, start int) int {
	var st lexState
	pos := start
	for {
		line := st.scanLine(src, pos)
		if line.semicolon >= 0 {
			return trailingTrivia(src, line.semicolon+1)
		}
		if line.open {
			if line.end >= len(src) {
				return len(src)
			}
			pos = line.end
			continue
		}
		return absorbBlankLines(src, line.end)
	}
}

func splitCompound(src string, start int) int {
	var st lexState

	pos, ok := scanLogical(&st, src, start)
	if !ok {
		return len(src)
	}

	for pos < len(src) {
		if next, blank := blankLine(src, pos); blank {
			pos = next
			continue
		}

		word := leadingWord(src[pos:])
		if src[pos] == ' ' || src[pos] == '\t' || word == "elif" || word == "else" {
			if pos, ok = scanLogical(&st, src, pos); !ok {
				return len(src)
			}
			continue
		}

		// Dedent: the statement is over.
		return pos
	}
	return len(src)
}

// scanLogical scans one logical line, following bracket, string and
// backslash continuations and stepping over semicolons. It returns the
// offset past the line, or false when input ends before the logical line
// does.
func scanLogical(st *lexState, src string, pos int) (int, bool) {
	for {
		line := st.scanLine(src, pos)
		if line.semicolon >= 0 {
			pos = line.semicolon + 1
			continue
		}
		if line.open {
			if line.end >= len(src) {
				return line.end, false
			}
			pos = line.end
			continue
		}
		return line.end, true
	}
}

// lexState is the part of the Starlark lexical state that survives a line
// break: bracket depth and an open string delimiter.
type lexState struct {
	depth int
	quote string
}

type lineInfo struct {
	// end is the offset just past the line terminator, or len(src).
	end int
	// semicolon is the offset of a top-level ';' that ended the scan, or -1.
	semicolon int
	// open is set when the statement continues on the next line.
	open bool
}

// scanLine scans from pos to the end of the physical line, stopping early
// at a top-level semicolon.
func (st *lexState) scanLine(src string, pos int) lineInfo {
	info := lineInfo{semicolon: -1}
	i := pos
	for i < len(src) {
		c := src[i]

		if st.quote != "" {
			switch {
			case c == '\\':
				i += 2
			case strings.HasPrefix(src[i:], st.quote):
				i += len(st.quote)
				st.quote = ""
			case c == '\n':
				i++
				if len(st.quote) == 1 {
					// Unterminated string: the line ends here and the
					// parser reports it.
					st.quote = ""
					info.end = i
					return info
				}
				info.end = i
				info.open = true
				return info
			default:
				i++
			}
			continue
		}

		switch c {
		case '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case '\n':
			info.end = i + 1
			info.open = st.depth > 0
			return info
		case '\\':
			if rest := src[i+1:]; strings.HasPrefix(rest, "\n") || strings.HasPrefix(rest, "\r\n") {
				info.end = i + 1 + strings.IndexByte(rest, '\n') + 1
				info.open = true
				return info
			}
			i++
		case ' ', '\t', '\r', '\f':
			i++
		case '"', '\'':
			if strings.HasPrefix(src[i:], strings.Repeat(string(c), 3)) {
				st.quote = strings.Repeat(string(c), 3)
			} else {
				st.quote = string(c)
			}
			i += len(st.quote)
		case '(', '[', '{':
			st.depth++
			i++
		case ')', ']', '}':
			if st.depth > 0 {
				st.depth--
			}
			i++
		case ';':
			if st.depth == 0 {
				info.semicolon = i
				info.end = i + 1
				return info
			}
			i++
		default:
			i++
		}
	}

	info.end = len(src)
	info.open = st.depth > 0 || st.quote != ""
	return info
}

// trailingTrivia extends a unit ending at pos over spaces, a comment and the
// line terminator when no further code follows on the same line.
func trailingTrivia(src string, pos int) int {
	i := pos
	for i < len(src) && (src[i] == ' ' || src[i] == '\t') {
		i++
	}
	if i < len(src) && src[i] == '#' {
		for i < len(src) && src[i] != '\n' {
			i++
		}
	}
	if i < len(src) && src[i] == '\r' && i+1 < len(src) && src[i+1] == '\n' {
		i++
	}
	if i >= len(src) {
		return len(src)
	}
	if src[i] == '\n' {
		return absorbBlankLines(src, i+1)
	}
	return i
}

// absorbBlankLines extends pos over following whitespace or comment-only
// lines. A final line without a terminator is left alone unless it is the
// last thing in src.
func absorbBlankLines(src string, pos int) int {
	for pos < len(src) {
		next, blank := blankLine(src, pos)
		if !blank {
			return pos
		}
		pos = next
	}
	return pos
}

// skipBlankLines returns the offset of the first line that holds code, or
// false when there is none.
func skipBlankLines(src string, pos int) (int, bool) {
	for pos < len(src) {
		next, blank := blankLine(src, pos)
		if !blank {
			return pos, true
		}
		pos = next
	}
	return pos, false
}

// blankLine reports whether the line starting at pos holds only whitespace
// or a comment, and returns the offset of the following line.
func blankLine(src string, pos int) (next int, blank bool) {
	i := pos
	for i < len(src) && (src[i] == ' ' || src[i] == '\t' || src[i] == '\r' || src[i] == '\f') {
		i++
	}
	if i < len(src) && src[i] == '#' {
		for i < len(src) && src[i] != '\n' {
			i++
		}
	}
	if i >= len(src) {
		return len(src), true
	}
	if src[i] != '\n' {
		return pos, false
	}
	return i + 1, true
}

func leadingWord(s string) string {
	end := 0
	for end < len(s) && isIdentByte(s[end]) {
		end++
	}
	return s[:end]
}

func isCompound(word string) bool {
	switch word {
	case "def", "if", "for", "while":
		return true
	}
	return false
}

func isLoad(s string) bool {
	if leadingWord(s) != "load" {
		return false
	}
	rest := strings.TrimLeft(s[len("load"):], " \t")
	return strings.HasPrefix(rest, "(")
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80
}
