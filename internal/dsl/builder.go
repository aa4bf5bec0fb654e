package dsl

import (
	"errors"
	"fmt"
	"net/url"

	"go.starlark.net/starlark"

	starctx "github.com/leapstack-labs/leaprepl/internal/starlark"
	"github.com/leapstack-labs/leaprepl/internal/starshell"
	"github.com/leapstack-labs/leaprepl/pkg/adapter"
)

// ErrOffline is returned by operations that need a connection when the query
// builder was created with offline().
var ErrOffline = errors.New("offline query builder cannot run queries")

// QueryBuilder is the value bound to db. It builds statements for one
// dialect and runs them on its connection.
type QueryBuilder struct {
	dialect adapter.Dialect
	conn    adapter.Adapter
	target  string
}

var _ starlark.HasAttrs = (*QueryBuilder)(nil)

func (b *QueryBuilder) String() string {
	if b.conn == nil {
		return fmt.Sprintf("query_builder(%s, offline)", b.dialect.Name)
	}
	return fmt.Sprintf("query_builder(%s, %s)", b.dialect.Name, b.target)
}

func (b *QueryBuilder) Type() string          { return "query_builder" }
func (b *QueryBuilder) Freeze()               {}
func (b *QueryBuilder) Truth() starlark.Bool  { return starlark.True }
func (b *QueryBuilder) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: query_builder") }

var builderAttrs = []string{"describe", "dialect", "execute", "fetch", "fetch_one", "select", "table", "tables"}

func (b *QueryBuilder) AttrNames() []string {
	return builderAttrs
}

func (b *QueryBuilder) Attr(name string) (starlark.Value, error) {
	switch name {
	case "dialect":
		return starlark.String(b.dialect.Name), nil
	case "select":
		return b.method(name, func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(kwargs) > 0 {
				return nil, fmt.Errorf("select: unexpected keyword arguments")
			}
			return newSelect(b, args)
		}), nil
	case "table":
		return b.method(name, b.table), nil
	case "fetch", "fetch_one", "execute":
		return b.method(name, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return b.run(thread, name, args, kwargs)
		}), nil
	case "tables":
		return b.method(name, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(name, args, kwargs, 0); err != nil {
				return nil, err
			}
			if b.conn == nil {
				return nil, ErrOffline
			}
			names, err := b.conn.Tables(starshell.Context(thread))
			if err != nil {
				return nil, err
			}
			values := make([]starlark.Value, len(names))
			for i, n := range names {
				values[i] = starlark.String(n)
			}
			return starlark.NewList(values), nil
		}), nil
	case "describe":
		return b.method(name, b.describe), nil
	}
	return nil, nil
}

func (b *QueryBuilder) method(name string, fn methodFunc) *starlark.Builtin {
	return starlark.NewBuiltin("query_builder."+name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return fn(thread, args, kwargs)
	})
}

// run implements fetch, fetch_one and execute, which take a statement and
// its positional bind parameters.
func (b *QueryBuilder) run(thread *starlark.Thread, name string, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", name)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing statement", name)
	}
	stmt, ok := starlark.AsString(args[0])
	if !ok {
		return nil, fmt.Errorf("%s: statement must be a string, got %s", name, args[0].Type())
	}
	params, err := starctx.ToGoArgs(args[1:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	switch name {
	case "execute":
		if b.conn == nil {
			return nil, ErrOffline
		}
		n, err := b.conn.Exec(starshell.Context(thread), stmt, params...)
		if err != nil {
			return nil, err
		}
		return starlark.MakeInt64(n), nil
	case "fetch_one":
		res, err := b.fetch(thread, stmt, params)
		if err != nil {
			return nil, err
		}
		return res.record(0), nil
	default:
		return b.fetch(thread, stmt, params)
	}
}

func (b *QueryBuilder) fetch(thread *starlark.Thread, stmt string, params []any) (*Result, error) {
	if b.conn == nil {
		return nil, ErrOffline
	}
	rows, err := b.conn.Query(starshell.Context(thread), stmt, params...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return newResult(rows)
}

// table returns a table reference. Connected builders look up its columns
// so completion can offer them.
func (b *QueryBuilder) table(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs("table", args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	t := &Table{name: name}
	if b.conn != nil {
		meta, err := b.conn.GetTableMetadata(starshell.Context(thread), name)
		if err != nil {
			return nil, err
		}
		for _, c := range meta.Columns {
			t.columns = append(t.columns, c.Name)
		}
	}
	return t, nil
}

func (b *QueryBuilder) describe(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs("describe", args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	if b.conn == nil {
		return nil, ErrOffline
	}
	meta, err := b.conn.GetTableMetadata(starshell.Context(thread), name)
	if err != nil {
		return nil, err
	}

	res := &Result{
		columns: []string{"column", "type", "nullable", "position"},
		types:   []string{"TEXT", "TEXT", "BOOLEAN", "INTEGER"},
		table:   meta.Name,
	}
	for _, c := range meta.Columns {
		res.rows = append(res.rows, []starlark.Value{
			starlark.String(c.Name),
			starlark.String(c.Type),
			starlark.Bool(c.Nullable),
			starlark.MakeInt(c.Position),
		})
	}
	return res, nil
}

// redact drops the password from a connection string for display.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
