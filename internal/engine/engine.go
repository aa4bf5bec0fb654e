// Package engine evaluates scripts incrementally against a shell session.
//
// A script is split into units by the shell and evaluated one unit at a
// time in a fresh session. The first failure ends the evaluation and is
// classified into a Response variant; a script that runs to the end yields
// a Success holding everything it printed plus the value of its final
// expression or variable. Completion and documentation queries run in a
// disposable session after evaluating only the load units before the
// cursor.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leaprepl/internal/database"
	"github.com/leapstack-labs/leaprepl/internal/dsl"
	"github.com/leapstack-labs/leaprepl/internal/shell"
)

// NoResults is the output of a script that printed nothing.
const NoResults = "execution finished without results"

// Service evaluates scripts and answers completion and documentation
// queries. db may be nil when no database is selected.
type Service interface {
	Evaluate(ctx context.Context, db *database.Descriptor, req Request) Response
	Suggest(ctx context.Context, db *database.Descriptor, req Request) (SuggestionResponse, error)
	Document(ctx context.Context, db *database.Descriptor, req Request) ([]DocumentationEntry, error)
}

// SessionFactory creates the session a single call runs in.
type SessionFactory func(cfg shell.Config, db *database.Descriptor) (shell.Shell, error)

// Options configures an Evaluator.
type Options struct {
	// Sessions creates sessions. Required.
	Sessions SessionFactory
	// Prefix is evaluated after the connection unit when the database does
	// not define its own. Defaults to loading the sql helpers.
	Prefix string
	Logger *slog.Logger
}

// Evaluator runs every call in its own session, in process.
type Evaluator struct {
	sessions SessionFactory
	prefix   string
	logger   *slog.Logger
}

var _ Service = (*Evaluator)(nil)

// New creates an Evaluator.
func New(opts Options) (*Evaluator, error) {
	if opts.Sessions == nil {
		return nil, errors.New("engine: session factory is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = dsl.DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{
		sessions: opts.Sessions,
		prefix:   opts.Prefix,
		logger:   opts.Logger,
	}, nil
}

// faultError marks a failure of the runtime rather than of user code.
type faultError struct {
	msg string
}

func (e *faultError) Error() string { return e.msg }

func faultf(format string, args ...any) error {
	return &faultError{msg: fmt.Sprintf(format, args...)}
}

// Evaluate runs req.Script to completion or to its first failure. It never
// panics and never returns nil.
func (e *Evaluator) Evaluate(ctx context.Context, db *database.Descriptor, req Request) (resp Response) {
	began := time.Now()
	defer func() {
		if r := recover(); r != nil {
			resp = &RuntimeFault{Message: fmt.Sprintf("evaluation panicked: %v", r)}
			e.logger.Error("evaluation panicked",
				slog.String("database", db.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
		e.logger.Debug("evaluated",
			slog.String("database", db.String()),
			slog.String("status", string(resp.Status())),
			slog.Duration("duration", time.Since(began)))
	}()

	var out, errOut bytes.Buffer
	sh, err := e.open(shell.Config{Out: &out, Err: &errOut}, db)
	if err != nil {
		return &SetupError{Message: err.Error()}
	}
	defer e.release(sh)

	resp, err = e.evaluate(ctx, sh, db, req, &out, &errOut)
	if err != nil {
		e.logger.Error("runtime fault", slog.String("database", db.String()), slog.Any("error", err))
		return &RuntimeFault{Message: err.Error()}
	}
	return resp
}

func (e *Evaluator) evaluate(ctx context.Context, sh shell.Shell, db *database.Descriptor, req Request, out, errOut *bytes.Buffer) (Response, error) {
	setupErr, err := e.setup(ctx, sh, db)
	if err != nil {
		return nil, err
	}
	if setupErr != nil {
		return setupErr, nil
	}
	out.Reset()
	errOut.Reset()
	return run(ctx, sh, req.Script, out, errOut)
}

// setup binds db and runs the script prefix. A non-nil response is the
// SetupError that ends the call.
func (e *Evaluator) setup(ctx context.Context, sh shell.Shell, db *database.Descriptor) (*SetupError, error) {
	if db != nil {
		ev, err := runUnit(ctx, sh, connectionUnit(db))
		if err != nil {
			return nil, err
		}
		if ev.Status == shell.StatusRejected {
			return &SetupError{Message: "Error creating a database object:\n" + formatDiagnostics(0, sh, ev.Snippet)}, nil
		}
		if ev.Err != nil {
			return &SetupError{Message: "An exception occurred connecting to the database: " + describe(sh, ev.Err)}, nil
		}
	}
	msg, err := e.runPrefix(ctx, sh, db)
	if err != nil {
		return nil, err
	}
	if msg != "" {
		return &SetupError{Message: msg}, nil
	}
	return nil, nil
}

// run evaluates script unit by unit in sh. out and errOut must hold only
// what sh printed since the caller reset them.
func run(ctx context.Context, sh shell.Shell, script string, out, errOut *bytes.Buffer) (Response, error) {
	began := time.Now()
	processed := 0
	remaining := script
	var last *shell.Event
	for {
		unit := sh.AnalyzeCompletion(remaining)
		if unit.Source+unit.Remaining != remaining {
			return nil, faultf("unit analysis lost input")
		}
		if unit.Completeness == shell.Empty {
			break
		}
		if unit.Source == "" {
			return nil, faultf("unit analysis made no progress")
		}

		// An incomplete unit reaching the end of input is evaluated anyway
		// so the runtime locates what is missing.
		ev, err := runUnit(ctx, sh, unit.Source)
		if err != nil {
			return nil, err
		}
		if ev.Status == shell.StatusRejected {
			return &ParseError{Message: formatDiagnostics(processed, sh, ev.Snippet)}, nil
		}
		if ev.Err != nil {
			return &EvaluationError{Message: describe(sh, ev.Err), Duration: time.Since(began)}, nil
		}

		last = &ev
		if strings.TrimSpace(unit.Remaining) == "" {
			break
		}
		processed += newlines(unit.Source)
		remaining = unit.Remaining
	}

	var augment func() (*AugmentedOutput, error)
	if last != nil {
		switch last.Snippet.Kind {
		case shell.KindVar:
			if _, err := runUnit(ctx, sh, fmt.Sprintf("print(%s)", last.Snippet.Name)); err != nil {
				return nil, err
			}
			augment = gridAugmentation(sh, last.Snippet)
		case shell.KindExpression:
			if last.HasValue {
				out.WriteString(last.Value)
			}
		}
	}

	output := out.String()
	if strings.TrimSpace(output) == "" {
		output = NoResults
	}
	return NewSuccess(output, errOut.String(), time.Since(began), augment), nil
}

// runPrefix evaluates the script prefix. A non-empty message reports a
// unit of the prefix that failed.
func (e *Evaluator) runPrefix(ctx context.Context, sh shell.Shell, db *database.Descriptor) (string, error) {
	prefix := e.prefix
	if db != nil && db.ScriptPrefix != "" {
		prefix = db.ScriptPrefix
	}

	processed := 0
	remaining := prefix
	for {
		unit := sh.AnalyzeCompletion(remaining)
		if unit.Completeness == shell.Empty || unit.Source == "" {
			return "", nil
		}
		ev, err := runUnit(ctx, sh, unit.Source)
		if err != nil {
			return "", err
		}
		if ev.Status == shell.StatusRejected {
			return "Error in the script prefix:\n" + formatDiagnostics(processed, sh, ev.Snippet), nil
		}
		if ev.Err != nil {
			return "An exception occurred running the script prefix: " + describe(sh, ev.Err), nil
		}
		processed += newlines(unit.Source)
		remaining = unit.Remaining
	}
}

// Suggest returns completion candidates at the request cursor.
func (e *Evaluator) Suggest(ctx context.Context, db *database.Descriptor, req Request) (SuggestionResponse, error) {
	cursor, err := req.cursor()
	if err != nil {
		return SuggestionResponse{}, err
	}
	sh, err := e.disposable(ctx, db)
	if err != nil {
		return SuggestionResponse{}, err
	}
	defer e.release(sh)

	trimmed, err := Trim(ctx, sh, req)
	if err != nil {
		return SuggestionResponse{}, err
	}
	offset := cursor - *trimmed.Cursor

	resp := suggestions(sh, trimmed.Script, *trimmed.Cursor)
	resp.Cursor = cursor
	resp.Anchor += offset
	return resp, nil
}

func suggestions(sh shell.Shell, code string, cursor int) SuggestionResponse {
	candidates, anchor := sh.Suggestions(code, cursor)
	resp := SuggestionResponse{Cursor: cursor, Anchor: anchor, Suggestions: make([]Suggestion, len(candidates))}
	for i, c := range candidates {
		resp.Suggestions[i] = Suggestion{Continuation: c.Continuation, Insert: c.Insert, MatchesType: c.MatchesType}
	}
	return resp
}

// Document returns documentation for the symbol at the request cursor. When
// the symbol itself is undocumented, the static type of the expression at
// the cursor is documented instead.
func (e *Evaluator) Document(ctx context.Context, db *database.Descriptor, req Request) ([]DocumentationEntry, error) {
	if _, err := req.cursor(); err != nil {
		return nil, err
	}
	sh, err := e.disposable(ctx, db)
	if err != nil {
		return nil, err
	}
	defer e.release(sh)

	trimmed, err := Trim(ctx, sh, req)
	if err != nil {
		return nil, err
	}
	return documentation(sh, trimmed.Script, *trimmed.Cursor), nil
}

func documentation(sh shell.Shell, code string, cursor int) []DocumentationEntry {
	docs := sh.Documentation(code, cursor)
	if len(docs) == 0 {
		if typeName := sh.AnalyzeType(code, cursor); strings.TrimSpace(typeName) != "" {
			docs = sh.Documentation(typeName, len(typeName))
		}
	}

	entries := make([]DocumentationEntry, len(docs))
	for i, d := range docs {
		entries[i] = DocumentationEntry{Signature: d.Signature, Documentation: d.Documentation}
	}
	return entries
}

// disposable opens a session for a completion or documentation query. The
// database is bound as an offline query builder of its dialect, so nothing
// connects.
func (e *Evaluator) disposable(ctx context.Context, db *database.Descriptor) (shell.Shell, error) {
	sh, err := e.open(shell.Config{}, nil)
	if err != nil {
		return nil, err
	}
	if db != nil {
		ev, err := runUnit(ctx, sh, offlineUnit(db))
		if err != nil {
			e.release(sh)
			return nil, err
		}
		if ev.Status == shell.StatusRejected || ev.Err != nil {
			e.logger.Debug("offline binding failed", slog.String("database", db.String()))
		}
	}
	if msg, err := e.runPrefix(ctx, sh, db); err != nil {
		e.release(sh)
		return nil, err
	} else if msg != "" {
		e.logger.Debug("script prefix failed", slog.String("database", db.String()), slog.String("error", msg))
	}
	return sh, nil
}

func (e *Evaluator) open(cfg shell.Config, db *database.Descriptor) (shell.Shell, error) {
	sh, err := e.sessions(cfg, db)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sh, nil
}

func (e *Evaluator) release(sh shell.Shell) {
	if err := sh.Close(); err != nil {
		e.logger.Warn("failed to close session", slog.Any("error", err))
	}
}

// runUnit evaluates one unit and returns its only original event.
func runUnit(ctx context.Context, sh shell.Shell, source string) (shell.Event, error) {
	events, err := sh.Eval(ctx, source)
	if err != nil {
		return shell.Event{}, fmt.Errorf("runtime failure: %w", err)
	}

	var original []shell.Event
	for _, ev := range events {
		if ev.Cause == nil {
			original = append(original, ev)
		}
	}
	if len(original) != 1 {
		return shell.Event{}, faultf("unit produced %d original events, expected 1", len(original))
	}
	if original[0].Snippet == nil {
		return shell.Event{}, faultf("event without snippet")
	}
	return original[0], nil
}

// describe renders a user-code error as "<ErrorType>: <message>".
func describe(sh shell.Shell, err error) string {
	if d, ok := sh.(shell.ErrorDescriber); ok {
		return d.DescribeError(err)
	}
	return "Error: " + err.Error()
}

// gridFormatter is implemented by values that render as a JSON grid.
type gridFormatter interface {
	FormatJSON() (string, error)
}

// gridAugmentation offers a grid rendering of the variable declared by
// snippet when it holds a query result.
func gridAugmentation(sh shell.Shell, snippet *shell.Snippet) func() (*AugmentedOutput, error) {
	if snippet.TypeName != "result" {
		return nil
	}
	src, ok := sh.(shell.ValueSource)
	if !ok {
		return nil
	}
	v, ok := src.Value(snippet.Name)
	if !ok {
		return nil
	}
	grid, ok := v.(gridFormatter)
	if !ok {
		return nil
	}
	return func() (*AugmentedOutput, error) {
		out, err := grid.FormatJSON()
		if err != nil {
			return nil, err
		}
		return &AugmentedOutput{Output: out, Name: "Grid", Type: GridType}, nil
	}
}

func connectionUnit(db *database.Descriptor) string {
	return fmt.Sprintf("db = connect(%s, %s, %s)\n", quote(db.ConnectionString), optional(db.User), optional(db.Password))
}

func offlineUnit(db *database.Descriptor) string {
	return fmt.Sprintf("db = offline(%s)\n", quote(db.Dialect))
}

func quote(s string) string {
	return starlark.String(s).String()
}

func optional(s string) string {
	if s == "" {
		return "None"
	}
	return quote(s)
}
