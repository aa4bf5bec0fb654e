package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leapstack-labs/leaprepl/internal/shell"
)

func TestFormatError(t *testing.T) {
	tests := []struct {
		name      string
		processed int
		unit      string
		position  int
		want      string
	}{
		{name: "start", unit: "x = (1 +", position: 0, want: "bad (row 1, character 0)"},
		{name: "first line", unit: "x = (1 +", position: 8, want: "bad (row 1, character 8)"},
		{name: "earlier units", processed: 4, unit: "c = ))", position: 4, want: "bad (row 5, character 4)"},
		{name: "second line of unit", unit: "f(1,\n  ))", position: 8, want: "bad (row 2, character 3)"},
		{name: "crlf", unit: "f(1,\r\n  ))", position: 9, want: "bad (row 2, character 3)"},
		{name: "lone cr", unit: "f(1,\r  ))", position: 8, want: "bad (row 2, character 3)"},
		{name: "lfcr", unit: "a\n\r))", position: 4, want: "bad (row 2, character 1)"},
		{name: "two lf", unit: "a\n\n))", position: 4, want: "bad (row 3, character 1)"},
		{name: "crlf then lfcr", processed: 1, unit: "a\r\n\n\r)", position: 5, want: "bad (row 4, character 0)"},
		{name: "runes", unit: `s = "héllo" +`, position: 13, want: "bad (row 1, character 12)"},
		{name: "position past end", unit: "ab", position: 10, want: "bad (row 1, character 2)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatError(tt.processed, tt.unit, shell.Diagnostic{Position: tt.position, Message: "bad", IsError: true})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewlines(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 0},
		{"a\n", 1},
		{"a\r\nb\r\n", 2},
		{"a\rb\n\n", 3},
		{"a\n\rb", 1},
		{"a\n\r\n\rb", 2},
		{"\r\r", 2},
		{"\n\r\r\n", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, newlines(tt.in), "%q", tt.in)
	}
}

func TestFormatDiagnostics_JoinsInOrder(t *testing.T) {
	snippet := &shell.Snippet{ID: 3, Source: "a\nb"}
	f := &fakeShell{diags: map[int][]shell.Diagnostic{3: {
		{Position: 0, Message: "first"},
		{Position: 2, Message: "second"},
	}}}

	got := formatDiagnostics(1, f, snippet)
	assert.Equal(t, "first (row 2, character 0)\nsecond (row 3, character 0)", got)
}
