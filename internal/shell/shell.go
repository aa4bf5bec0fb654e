// Package shell defines the contract between the evaluation engine and an
// embedded, incremental script runtime.
//
// The engine never parses or compiles source itself. It asks a Shell where
// the next unit of input ends, evaluates one unit at a time, and interprets
// the returned events. Completion and documentation queries are delegated to
// the Shell as well.
package shell

import (
	"context"
	"io"
)

// Completeness classifies the leading unit of a text.
type Completeness int

const (
	// Complete means the unit can be evaluated on its own.
	Complete Completeness = iota
	// Incomplete means the text is a valid but unfinished prefix.
	Incomplete
	// Empty means the text holds nothing but whitespace and comments.
	Empty
)

func (c Completeness) String() string {
	switch c {
	case Complete:
		return "complete"
	case Incomplete:
		return "incomplete"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// Analysis is the result of unit-boundary analysis over a text.
// Source+Remaining always equals the analyzed text.
type Analysis struct {
	Source       string
	Remaining    string
	Completeness Completeness
	// Import reports whether the unit is an import-like declaration
	// whose only effect is making names visible.
	Import bool
}

// Kind is the syntactic kind of an evaluated snippet.
type Kind int

const (
	KindStatement Kind = iota
	KindExpression
	KindVar
	KindDef
	KindImport
)

func (k Kind) String() string {
	switch k {
	case KindStatement:
		return "statement"
	case KindExpression:
		return "expression"
	case KindVar:
		return "var"
	case KindDef:
		return "def"
	case KindImport:
		return "import"
	default:
		return "unknown"
	}
}

// Status is the outcome status of a snippet.
type Status int

const (
	StatusValid Status = iota
	StatusRejected
)

// Snippet is one unit of source as the runtime understood it.
type Snippet struct {
	ID     int
	Source string
	Kind   Kind
	// Name is the declared name for KindVar and KindDef snippets.
	Name string
	// TypeName is the runtime type of the declared or produced value.
	TypeName string
}

// Event reports a change in session state caused by evaluating a unit.
// Cause is nil for original events and names the triggering snippet for
// derived ones.
type Event struct {
	Snippet *Snippet
	Status  Status
	// Value is the textual rendering of an expression value. HasValue is
	// false when the expression produced nothing worth printing.
	Value    string
	HasValue bool
	// Err is the error raised by user code while running the snippet.
	Err   error
	Cause *Snippet
}

// Diagnostic locates a problem inside a snippet's source. Position is a
// byte offset into Snippet.Source.
type Diagnostic struct {
	Position int
	Message  string
	IsError  bool
}

// Suggestion is one completion candidate. Continuation replaces the text
// between the anchor and the cursor; Insert is the part not yet typed.
type Suggestion struct {
	Continuation string
	Insert       string
	MatchesType  bool
}

// Documentation describes one candidate symbol.
type Documentation struct {
	Signature     string
	Documentation string
}

// Shell is an incremental interpreter instance. A Shell is not safe for
// concurrent use, except for Stop.
type Shell interface {
	// AnalyzeCompletion finds the leading unit of input.
	AnalyzeCompletion(input string) Analysis
	// Eval evaluates exactly one unit. A non-nil error means the runtime
	// itself failed; rejections and user errors are reported through events.
	Eval(ctx context.Context, source string) ([]Event, error)
	// Diagnostics lists problems for a rejected snippet in runtime order.
	Diagnostics(s *Snippet) []Diagnostic
	// Suggestions returns completion candidates at cursor and the anchor
	// offset the candidates replace from.
	Suggestions(code string, cursor int) ([]Suggestion, int)
	// Documentation returns documentation for the symbol at cursor.
	Documentation(code string, cursor int) []Documentation
	// AnalyzeType returns the static type name of the expression at cursor,
	// or "" when it cannot be determined.
	AnalyzeType(code string, cursor int) string
	// Stop interrupts a running evaluation. Best effort.
	Stop()
	Close() error
}

// Config configures a new Shell.
type Config struct {
	Out io.Writer
	Err io.Writer
}

// Factory creates a fresh Shell.
type Factory func(cfg Config) (Shell, error)

// ValueSource is implemented by shells that expose the values bound by
// evaluated units.
type ValueSource interface {
	Value(name string) (any, bool)
}

// Resumer is implemented by shells that can evaluate again after Stop.
type Resumer interface {
	Resume()
}

// ErrorDescriber is implemented by shells that can render a user-code error
// as "<ErrorType>: <message>" without runtime-internal detail.
type ErrorDescriber interface {
	DescribeError(err error) string
}
