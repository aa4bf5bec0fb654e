package engine

import (
	"context"
	"sync"

	"github.com/leapstack-labs/leaprepl/internal/database"
	"github.com/leapstack-labs/leaprepl/internal/shell"
	"github.com/leapstack-labs/leaprepl/internal/starshell"
)

// fakeShell splits like a Starlark session and answers Eval from a
// scripted function.
type fakeShell struct {
	eval  func(source string) ([]shell.Event, error)
	diags map[int][]shell.Diagnostic
	vals  map[string]any

	mu        sync.Mutex
	evaluated []string
	closed    bool
}

func (f *fakeShell) AnalyzeCompletion(input string) shell.Analysis {
	return starshell.Split(input)
}

func (f *fakeShell) Eval(_ context.Context, source string) ([]shell.Event, error) {
	f.mu.Lock()
	f.evaluated = append(f.evaluated, source)
	f.mu.Unlock()
	if f.eval == nil {
		return []shell.Event{{Snippet: &shell.Snippet{Source: source}}}, nil
	}
	return f.eval(source)
}

func (f *fakeShell) Diagnostics(s *shell.Snippet) []shell.Diagnostic {
	return f.diags[s.ID]
}

func (f *fakeShell) Suggestions(string, int) ([]shell.Suggestion, int) { return nil, 0 }
func (f *fakeShell) Documentation(string, int) []shell.Documentation   { return nil }
func (f *fakeShell) AnalyzeType(string, int) string                    { return "" }

func (f *fakeShell) Stop() {}

func (f *fakeShell) Close() error {
	f.closed = true
	return nil
}

func (f *fakeShell) Value(name string) (any, bool) {
	v, ok := f.vals[name]
	return v, ok
}

func fakeSessions(f *fakeShell) SessionFactory {
	return func(shell.Config, *database.Descriptor) (shell.Shell, error) {
		return f, nil
	}
}

type fakeGrid struct{}

func (fakeGrid) FormatJSON() (string, error) { return `{"fields":[],"records":[]}`, nil }
