package starshell

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leapstack-labs/leaprepl/internal/shell"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantSource string
		wantState  shell.Completeness
		wantImport bool
	}{
		{name: "single expression", input: "1+1", wantSource: "1+1", wantState: shell.Complete},
		{name: "semicolon", input: "a = 1; b = 2", wantSource: "a = 1; ", wantState: shell.Complete},
		{name: "newline", input: "a = 1\nb = 2\n", wantSource: "a = 1\n", wantState: shell.Complete},
		{name: "crlf", input: "x = 1\r\ny", wantSource: "x = 1\r\n", wantState: shell.Complete},
		{name: "open bracket", input: "x = (1 +\n", wantSource: "x = (1 +\n", wantState: shell.Incomplete},
		{name: "dangling operator is left to the parser", input: "x = 1 +", wantSource: "x = 1 +", wantState: shell.Complete},
		{name: "empty", input: "", wantSource: "", wantState: shell.Empty},
		{name: "whitespace only", input: "  \n\t\n", wantSource: "", wantState: shell.Empty},
		{name: "comment only", input: "# nothing here\n", wantSource: "", wantState: shell.Empty},
		{name: "semicolon inside string", input: "s = 'a;b'; t", wantSource: "s = 'a;b'; ", wantState: shell.Complete},
		{name: "semicolon inside brackets", input: "f(a, [1; 2])\nx", wantSource: "f(a, [1; 2])\n", wantState: shell.Complete},
		{name: "trailing comment and blank lines", input: "a = 1  # note\n\n\nb", wantSource: "a = 1  # note\n\n\n", wantState: shell.Complete},
		{name: "semicolon then comment", input: "a = 1; # note\nb", wantSource: "a = 1; # note\n", wantState: shell.Complete},
		{name: "backslash continuation", input: "x = 1 \\\n + 2\ny", wantSource: "x = 1 \\\n + 2\n", wantState: shell.Complete},
		{name: "open triple quoted string", input: "s = \"\"\"a\nb", wantSource: "s = \"\"\"a\nb", wantState: shell.Incomplete},
		{name: "closed triple quoted string", input: "s = \"\"\"a\nb\"\"\"\nx", wantSource: "s = \"\"\"a\nb\"\"\"\n", wantState: shell.Complete},
		{name: "def followed by dedent", input: "def f():\n  return 1\n\nf()", wantSource: "def f():\n  return 1\n\n", wantState: shell.Complete},
		{name: "def at end of input", input: "def f():\n  return 1\n", wantSource: "def f():\n  return 1\n", wantState: shell.Incomplete},
		{name: "def closed by blank line", input: "def f():\n  return 1\n\n", wantSource: "def f():\n  return 1\n\n", wantState: shell.Complete},
		{name: "header without body", input: "def f():", wantSource: "def f():", wantState: shell.Incomplete},
		{name: "if else", input: "if x:\n  a = 1\nelse:\n  a = 2\nprint(a)", wantSource: "if x:\n  a = 1\nelse:\n  a = 2\n", wantState: shell.Complete},
		{name: "comment inside block", input: "for i in r:\n  a = i\n# step\n  b = i\nc", wantSource: "for i in r:\n  a = i\n# step\n  b = i\n", wantState: shell.Complete},
		{name: "inline body", input: "if x: a = 1; b = 2\nc", wantSource: "if x: a = 1; b = 2\n", wantState: shell.Complete},
		{name: "load", input: `load("math", "floor"); flo`, wantSource: `load("math", "floor"); `, wantState: shell.Complete, wantImport: true},
		{name: "load after blank line", input: "\nload(\"json\", \"encode\")\n", wantSource: "\nload(\"json\", \"encode\")\n", wantState: shell.Complete, wantImport: true},
		{name: "name starting with load", input: "loader = 1", wantSource: "loader = 1", wantState: shell.Complete},
		{name: "inline body at end of input", input: "if x: a = 1", wantSource: "if x: a = 1", wantState: shell.Incomplete},
		{name: "else at end of input", input: "if x:\n  a = 1\nelse:\n", wantSource: "if x:\n  a = 1\nelse:\n", wantState: shell.Incomplete},
		{name: "block closed by whitespace line", input: "for i in r:\n  a = i\n  \n", wantSource: "for i in r:\n  a = i\n  \n", wantState: shell.Complete},
		{name: "unterminated string is left to the parser", input: "s = 'abc\n", wantSource: "s = 'abc\n", wantState: shell.Complete},
		{name: "stray bracket is left to the parser", input: "x = 1)", wantSource: "x = 1)", wantState: shell.Complete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.input)
			assert.Equal(t, tt.wantSource, got.Source, "source")
			assert.Equal(t, tt.wantState, got.Completeness, "completeness")
			assert.Equal(t, tt.wantImport, got.Import, "import")
			assert.Equal(t, tt.input, got.Source+got.Remaining, "source and remainder must cover the input")
		})
	}
}

func TestSplit_ConsumesWholeInput(t *testing.T) {
	input := "a = 1; b = 2\n\ndef f(x):\n  return x * b\n\nprint(f(a))  # done\n"

	var units []string
	rest := input
	for {
		unit := Split(rest)
		if unit.Completeness == shell.Empty {
			assert.Equal(t, "", unit.Remaining)
			break
		}
		units = append(units, unit.Source)
		rest = unit.Remaining
	}

	assert.Equal(t, []string{
		"a = 1; ",
		"b = 2\n\n",
		"def f(x):\n  return x * b\n\n",
		"print(f(a))  # done\n",
	}, units)
}

func TestUnfinished(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"x = 1\n", false},
		{"x = (1 +\n", true},
		{"def f():\n  return 1\n", true},
		{"def f():\n  return 1\n\n", false},
		{"a = 1; b = [\n", true},
		{"a = 1\nb = {\n  'k': 1,\n", true},
		{"s = \"\"\"doc\n", true},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Unfinished(tt.src), "%q", tt.src)
	}
}
