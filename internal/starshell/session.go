// Package starshell implements the incremental script runtime on top of
// Starlark. A Session keeps globals across units, redirects print output,
// classifies each unit and answers completion and documentation queries.
package starshell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/leapstack-labs/leaprepl/internal/shell"
)

// ErrClosed is returned when a closed session is used.
var ErrClosed = errors.New("session closed")

// fileOptions mirror the dialect an interactive prompt needs: top-level
// control flow, rebinding globals and load statements that bind globals.
var fileOptions = &syntax.FileOptions{
	Set:               true,
	While:             true,
	TopLevelControl:   true,
	GlobalReassign:    true,
	Recursion:         true,
	LoadBindsGlobally: true,
}

const contextKey = "leaprepl.context"

// Context returns the context of the unit running on thread. Builtins that
// block, such as database queries, use it.
func Context(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(contextKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// Option configures a Session.
type Option func(*Session)

// WithPredeclared adds names visible to every unit, such as connect.
func WithPredeclared(names starlark.StringDict) Option {
	return func(s *Session) {
		for name, v := range names {
			s.globals[name] = v
			s.predeclared[name] = true
		}
	}
}

// WithModules makes modules loadable with load("name", ...).
func WithModules(modules map[string]starlark.StringDict) Option {
	return func(s *Session) {
		for name, members := range modules {
			s.modules[name] = members
		}
	}
}

// WithDocs merges documentation used by completion and documentation
// queries.
func WithDocs(docs *Docs) Option {
	return func(s *Session) {
		s.docs.Merge(docs)
	}
}

// WithCloser registers c to be closed with the session, for instance the
// connections opened by builtins.
func WithCloser(c io.Closer) Option {
	return func(s *Session) {
		s.closers = append(s.closers, c)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session is one Starlark interpreter instance.
type Session struct {
	id      string
	out     io.Writer
	errOut  io.Writer
	thread  *starlark.Thread
	globals starlark.StringDict
	// order lists user bindings in declaration order.
	order       []string
	predeclared map[string]bool
	modules     map[string]starlark.StringDict
	// loads maps a name bound by load to "module.member".
	loads  map[string]string
	docs    *Docs
	logger  *slog.Logger
	closers []io.Closer

	nextID      int
	diagnostics map[int][]shell.Diagnostic

	mu     sync.Mutex
	closed bool
}

var (
	_ shell.Shell          = (*Session)(nil)
	_ shell.ValueSource    = (*Session)(nil)
	_ shell.ErrorDescriber = (*Session)(nil)
)

// New creates a session writing print output to cfg.Out and eprint output
// to cfg.Err.
func New(cfg shell.Config, opts ...Option) *Session {
	s := &Session{
		id:          uuid.NewString(),
		out:         writerOrDiscard(cfg.Out),
		errOut:      writerOrDiscard(cfg.Err),
		globals:     make(starlark.StringDict),
		predeclared: make(map[string]bool),
		modules:     StandardModules(),
		loads:       make(map[string]string),
		docs:        BuiltinDocs(),
		logger:      slog.New(slog.DiscardHandler),
		diagnostics: make(map[int][]shell.Diagnostic),
	}
	s.globals["eprint"] = starlark.NewBuiltin("eprint", s.eprint)
	s.predeclared["eprint"] = true

	for _, opt := range opts {
		opt(s)
	}

	s.thread = &starlark.Thread{
		Name: "session-" + s.id,
		Print: func(_ *starlark.Thread, msg string) {
			_, _ = io.WriteString(s.out, msg+"\n")
		},
		Load: s.load,
	}
	return s
}

// Factory returns a shell.Factory producing sessions with opts.
func Factory(opts ...Option) shell.Factory {
	return func(cfg shell.Config) (shell.Shell, error) {
		return New(cfg, opts...), nil
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Bindings returns the names declared by evaluated units, in declaration
// order.
func (s *Session) Bindings() []string {
	return append([]string(nil), s.order...)
}

// Global returns the value bound to name.
func (s *Session) Global(name string) (starlark.Value, bool) {
	v, ok := s.globals[name]
	return v, ok
}

// Value implements shell.ValueSource.
func (s *Session) Value(name string) (any, bool) {
	return s.Global(name)
}

// AnalyzeCompletion implements shell.Shell.
func (s *Session) AnalyzeCompletion(input string) shell.Analysis {
	return Split(input)
}

// Eval implements shell.Shell. It evaluates one unit and reports a single
// original event for it.
func (s *Session) Eval(ctx context.Context, source string) (events []shell.Event, err error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("starlark runtime panic: %v", r)
		}
	}()

	s.nextID++
	snippet := &shell.Snippet{ID: s.nextID, Source: source, Kind: shell.KindStatement}

	f, perr := fileOptions.Parse(fmt.Sprintf("<unit %d>", snippet.ID), source, 0)
	if perr != nil {
		return s.reject(snippet, perr), nil
	}
	snippet.Kind, snippet.Name = classify(f)

	s.thread.SetLocal(contextKey, ctx)
	stop := context.AfterFunc(ctx, func() {
		s.thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	event := shell.Event{Snippet: snippet, Status: shell.StatusValid}

	if snippet.Kind == shell.KindExpression {
		expr := f.Stmts[0].(*syntax.ExprStmt).X
		v, xerr := starlark.EvalExprOptions(f.Options, s.thread, expr, s.globals)
		if xerr != nil {
			return s.failure(snippet, xerr), nil
		}
		snippet.TypeName = v.Type()
		if v != starlark.None {
			event.Value = v.String()
			event.HasValue = true
		}
		return []shell.Event{event}, nil
	}

	before := len(s.globals)
	xerr := starlark.ExecREPLChunk(f, s.thread, s.globals)
	if len(s.globals) != before {
		s.recordBindings()
	}
	if xerr != nil {
		return s.failure(snippet, xerr), nil
	}

	switch snippet.Kind {
	case shell.KindVar, shell.KindDef:
		if v, ok := s.globals[snippet.Name]; ok {
			snippet.TypeName = v.Type()
		}
	case shell.KindImport:
		s.recordLoad(f.Stmts[0].(*syntax.LoadStmt))
	}

	events = []shell.Event{event}
	// Extra names bound by one unit, for instance by tuple assignment, are
	// reported as derived events.
	if snippet.Kind == shell.KindStatement {
		for _, name := range assignedNames(f) {
			v, ok := s.globals[name]
			if !ok {
				continue
			}
			events = append(events, shell.Event{
				Snippet: &shell.Snippet{ID: snippet.ID, Source: source, Kind: shell.KindVar, Name: name, TypeName: v.Type()},
				Status:  shell.StatusValid,
				Cause:   snippet,
			})
		}
	}
	return events, nil
}

// DescribeError implements shell.ErrorDescriber. Errors raised by fail()
// are reported as Fail, interrupted units as Cancelled and everything else
// as Error.
func (s *Session) DescribeError(err error) string {
	var evalErr *starlark.EvalError
	if !errors.As(err, &evalErr) {
		return "Error: " + err.Error()
	}
	kind := "Error"
	switch {
	case strings.HasPrefix(evalErr.Msg, "Starlark computation cancelled"):
		kind = "Cancelled"
	case len(evalErr.CallStack) > 0 && evalErr.CallStack.At(0).Name == "fail":
		kind = "Fail"
	}
	return kind + ": " + evalErr.Msg
}

// Diagnostics implements shell.Shell.
func (s *Session) Diagnostics(snippet *shell.Snippet) []shell.Diagnostic {
	if snippet == nil {
		return nil
	}
	return s.diagnostics[snippet.ID]
}

// Stop implements shell.Shell.
func (s *Session) Stop() {
	s.thread.Cancel("evaluation stopped")
}

// Resume implements shell.Resumer. It clears a previous Stop so later
// units run; a closed session stays closed.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.thread.Uncancel()
	}
}

// Close implements shell.Shell.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.thread.Cancel("session closed")
	s.logger.Debug("session closed", "session", s.id, "bindings", len(s.order))

	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// reject records diagnostics for a snippet the parser or resolver refused.
func (s *Session) reject(snippet *shell.Snippet, err error) []shell.Event {
	var diags []shell.Diagnostic

	var syntaxErr syntax.Error
	var resolveErrs resolve.ErrorList
	switch {
	case errors.As(err, &syntaxErr):
		diags = append(diags, shell.Diagnostic{
			Position: positionOffset(snippet.Source, syntaxErr.Pos),
			Message:  syntaxErr.Msg,
			IsError:  true,
		})
	case errors.As(err, &resolveErrs):
		for _, e := range resolveErrs {
			diags = append(diags, shell.Diagnostic{
				Position: positionOffset(snippet.Source, e.Pos),
				Message:  e.Msg,
				IsError:  true,
			})
		}
	default:
		diags = append(diags, shell.Diagnostic{Message: err.Error(), IsError: true})
	}

	s.diagnostics[snippet.ID] = diags
	return []shell.Event{{Snippet: snippet, Status: shell.StatusRejected}}
}

// failure turns an execution error into an event, separating resolver
// rejections from errors raised by running code.
func (s *Session) failure(snippet *shell.Snippet, err error) []shell.Event {
	var resolveErrs resolve.ErrorList
	var syntaxErr syntax.Error
	if errors.As(err, &resolveErrs) || errors.As(err, &syntaxErr) {
		return s.reject(snippet, err)
	}
	return []shell.Event{{Snippet: snippet, Status: shell.StatusValid, Err: err}}
}

func (s *Session) recordBindings() {
	known := make(map[string]bool, len(s.order))
	for _, name := range s.order {
		known[name] = true
	}
	for name := range s.globals {
		if !known[name] && !s.predeclared[name] {
			s.order = append(s.order, name)
		}
	}
}

func (s *Session) recordLoad(stmt *syntax.LoadStmt) {
	module, _ := stmt.Module.Value.(string)
	for i, to := range stmt.To {
		s.loads[to.Name] = module + "." + stmt.From[i].Name
	}
}

func (s *Session) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	members, ok := s.modules[module]
	if !ok {
		return nil, fmt.Errorf("module %q not found (available: %s)", module, strings.Join(s.moduleNames(), ", "))
	}
	return members, nil
}

func (s *Session) moduleNames() []string {
	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	return sortedUnique(names)
}

// eprint is print for the error stream.
func (s *Session) eprint(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	sep := " "
	if err := starlark.UnpackArgs(b.Name(), nil, kwargs, "sep?", &sep); err != nil {
		return nil, err
	}
	parts := make([]string, len(args))
	for i, arg := range args {
		if str, ok := starlark.AsString(arg); ok {
			parts[i] = str
		} else {
			parts[i] = arg.String()
		}
	}
	_, _ = io.WriteString(s.errOut, strings.Join(parts, sep)+"\n")
	return starlark.None, nil
}

// classify derives the snippet kind from the parsed unit.
func classify(f *syntax.File) (shell.Kind, string) {
	if len(f.Stmts) != 1 {
		return shell.KindStatement, ""
	}
	switch stmt := f.Stmts[0].(type) {
	case *syntax.ExprStmt:
		return shell.KindExpression, ""
	case *syntax.AssignStmt:
		if id, ok := stmt.LHS.(*syntax.Ident); ok {
			return shell.KindVar, id.Name
		}
	case *syntax.DefStmt:
		return shell.KindDef, stmt.Name.Name
	case *syntax.LoadStmt:
		return shell.KindImport, ""
	}
	return shell.KindStatement, ""
}

// assignedNames lists globals bound by top-level tuple or list assignment.
func assignedNames(f *syntax.File) []string {
	var names []string
	for _, stmt := range f.Stmts {
		assign, ok := stmt.(*syntax.AssignStmt)
		if !ok {
			continue
		}
		names = append(names, boundIdents(assign.LHS)...)
	}
	return names
}

func boundIdents(e syntax.Expr) []string {
	switch x := e.(type) {
	case *syntax.Ident:
		return []string{x.Name}
	case *syntax.TupleExpr:
		var names []string
		for _, elem := range x.List {
			names = append(names, boundIdents(elem)...)
		}
		return names
	case *syntax.ListExpr:
		var names []string
		for _, elem := range x.List {
			names = append(names, boundIdents(elem)...)
		}
		return names
	case *syntax.ParenExpr:
		return boundIdents(x.X)
	}
	return nil
}

// positionOffset converts a 1-based line and rune column into a byte offset
// into src.
func positionOffset(src string, pos syntax.Position) int {
	line := int(pos.Line)
	col := int(pos.Col)
	if line < 1 {
		return 0
	}

	offset := 0
	for l := 1; l < line; l++ {
		nl := strings.IndexByte(src[offset:], '\n')
		if nl < 0 {
			return len(src)
		}
		offset += nl + 1
	}
	for c := 1; c < col && offset < len(src); c++ {
		if src[offset] == '\n' {
			break
		}
		_, size := utf8.DecodeRuneInString(src[offset:])
		offset += size
	}
	return offset
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
