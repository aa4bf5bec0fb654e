// Package dsl is the Starlark query-builder library. It predeclares
// connect, offline and setting, and provides the loadable "sql" module:
//
//	db = connect("postgres://localhost/app", "reader", "secret")
//	load("sql", "field", "desc")
//	db.select("name", field("total")).from_("orders").where(field("total").gt(10)).order_by(desc("total")).fetch()
package dsl

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/leapstack-labs/leaprepl/internal/database"
	"github.com/leapstack-labs/leaprepl/internal/shell"
	"github.com/leapstack-labs/leaprepl/internal/starshell"
	"github.com/leapstack-labs/leaprepl/pkg/adapter"
)

// ModuleName is the name the helpers are loaded under.
const ModuleName = "sql"

// DefaultPrefix loads every helper of the sql module.
const DefaultPrefix = `load("sql", "field", "table", "asc", "desc", "count", "val", "and_", "or_", "not_")`

// LookupFunc reads a named setting. ok is false when it is not set.
type LookupFunc func(name string) (value string, ok bool, err error)

// Options configures an Env.
type Options struct {
	// Params are passed to adapters opened by connect.
	Params map[string]any
	// Dial, when set, opens every network connection of connect.
	Dial adapter.DialFunc
	// Authorize, when set, must approve every url before connect opens it.
	Authorize func(url string) error
	// Sandboxed is passed on to adapters; see adapter.Config.
	Sandboxed bool
	// Lookup backs setting(name). Defaults to the process environment.
	Lookup LookupFunc
	Logger *slog.Logger
}

// Env owns the connections opened by one session.
type Env struct {
	opts Options

	mu    sync.Mutex
	conns []adapter.Adapter
}

// NewEnv creates an Env.
func NewEnv(opts Options) *Env {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Lookup == nil {
		opts.Lookup = func(name string) (string, bool, error) {
			v, ok := os.LookupEnv(name)
			return v, ok, nil
		}
	}
	return &Env{opts: opts}
}

// Predeclared returns the names bound in every session.
func (e *Env) Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"connect": starlark.NewBuiltin("connect", e.connect),
		"offline": starlark.NewBuiltin("offline", e.offline),
		"setting": starlark.NewBuiltin("setting", e.setting),
	}
}

// Modules returns the loadable modules.
func (e *Env) Modules() map[string]starlark.StringDict {
	return map[string]starlark.StringDict{ModuleName: Module().Members}
}

// SessionOptions wires the Env into a starshell session. The session closes
// the Env's connections when it is closed.
func (e *Env) SessionOptions() []starshell.Option {
	return []starshell.Option{
		starshell.WithPredeclared(e.Predeclared()),
		starshell.WithModules(e.Modules()),
		starshell.WithDocs(Docs()),
		starshell.WithCloser(e),
		starshell.WithLogger(e.opts.Logger),
	}
}

// Close closes every connection opened through connect.
func (e *Env) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for _, c := range e.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.conns = nil
	return errors.Join(errs...)
}

func (e *Env) connect(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var url string
	var user, password starlark.Value = starlark.None, starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &url, "user?", &user, "password?", &password); err != nil {
		return nil, err
	}
	if e.opts.Authorize != nil {
		if err := e.opts.Authorize(url); err != nil {
			return nil, err
		}
	}

	a, err := adapter.NewAdapter(url, e.opts.Logger)
	if err != nil {
		return nil, err
	}
	cfg := adapter.Config{
		URL:       url,
		User:      optionalString(user),
		Password:  optionalString(password),
		Params:    e.opts.Params,
		Dial:      e.opts.Dial,
		Sandboxed: e.opts.Sandboxed,
	}
	if err := a.Connect(starshell.Context(thread), cfg); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.conns = append(e.conns, a)
	e.mu.Unlock()

	e.opts.Logger.Debug("connected", slog.String("target", redact(url)), slog.String("dialect", a.Dialect().Name))
	return &QueryBuilder{dialect: a.Dialect(), conn: a, target: redact(url)}, nil
}

func (e *Env) offline(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "dialect", &name); err != nil {
		return nil, err
	}
	d, ok := adapter.LookupDialect(name)
	if !ok {
		return nil, fmt.Errorf("%s: unknown dialect %q", b.Name(), name)
	}
	return &QueryBuilder{dialect: d}, nil
}

func (e *Env) setting(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	v, ok, err := e.opts.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return def, nil
	}
	return starlark.String(v), nil
}

func optionalString(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return ""
}

// Module returns the sql helper module.
func Module() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: ModuleName,
		Members: starlark.StringDict{
			"field": starlark.NewBuiltin("field", newField),
			"table": starlark.NewBuiltin("table", newTable),
			"asc":   starlark.NewBuiltin("asc", sortBuiltin(false)),
			"desc":  starlark.NewBuiltin("desc", sortBuiltin(true)),
			"count": starlark.NewBuiltin("count", countBuiltin),
			"val":   starlark.NewBuiltin("val", valBuiltin),
			"and_":  starlark.NewBuiltin("and_", combineBuiltin("AND")),
			"or_":   starlark.NewBuiltin("or_", combineBuiltin("OR")),
			"not_":  starlark.NewBuiltin("not_", notBuiltin),
		},
	}
}

func newField(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	return &Field{name: name}, nil
}

func newTable(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	return &Table{name: name}, nil
}

func sortBuiltin(descending bool) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		f, err := toField(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return &SortField{field: f, desc: descending}, nil
	}
}

func countBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &v); err != nil {
		return nil, err
	}
	if v == starlark.None {
		return &Field{name: "*", fn: "COUNT"}, nil
	}
	f, err := toField(v)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	field, ok := f.(*Field)
	if !ok {
		return nil, fmt.Errorf("count: expected field or column name, got %s", v.Type())
	}
	counted := *field
	counted.fn = "COUNT"
	return &counted, nil
}

func valBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	return &Param{v: v}, nil
}

func combineBuiltin(keyword string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 || len(args) == 0 {
			return nil, fmt.Errorf("%s: expected one or more conditions", b.Name())
		}
		conds := make([]*Condition, len(args))
		for i, arg := range args {
			c, ok := arg.(*Condition)
			if !ok {
				return nil, fmt.Errorf("%s: argument %d: expected condition, got %s", b.Name(), i+1, arg.Type())
			}
			conds[i] = c
		}
		if len(conds) == 1 {
			return conds[0], nil
		}
		return join(keyword, conds...), nil
	}
}

func notBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var c *Condition
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &c); err != nil {
		return nil, err
	}
	return not(c), nil
}

// Factory returns a session factory for the evaluation engine: each session
// gets its own Env, configured with the params of the bound database.
func Factory(opts Options) func(shell.Config, *database.Descriptor) (shell.Shell, error) {
	return func(cfg shell.Config, db *database.Descriptor) (shell.Shell, error) {
		envOpts := opts
		if db != nil && db.Params != nil {
			envOpts.Params = db.Params
		}
		env := NewEnv(envOpts)
		return starshell.New(cfg, env.SessionOptions()...), nil
	}
}
