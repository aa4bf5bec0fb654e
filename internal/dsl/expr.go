package dsl

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	starctx "github.com/leapstack-labs/leaprepl/internal/starlark"
	"github.com/leapstack-labs/leaprepl/pkg/adapter"
)

// renderer accumulates SQL text and bind parameters.
type renderer struct {
	dialect adapter.Dialect
	sb      strings.Builder
	params  []any
	err     error
}

func newRenderer(d adapter.Dialect) *renderer {
	return &renderer{dialect: d}
}

func (r *renderer) write(s string) {
	r.sb.WriteString(s)
}

func (r *renderer) ident(name string) {
	r.sb.WriteString(r.dialect.QuoteIdent(name))
}

func (r *renderer) bind(v starlark.Value) {
	gv, err := starctx.ToGo(v)
	if err != nil && r.err == nil {
		r.err = err
	}
	r.params = append(r.params, gv)
	r.sb.WriteString(r.dialect.FormatPlaceholder(len(r.params)))
}

// operand writes an expression or binds a plain value.
func (r *renderer) operand(v starlark.Value) {
	if e, ok := v.(sqlExpr); ok {
		e.render(r)
		return
	}
	r.bind(v)
}

// sqlExpr is a value that renders itself as SQL.
type sqlExpr interface {
	starlark.Value
	render(r *renderer)
}

// preview renders e with ? placeholders for String methods.
func preview(e sqlExpr) string {
	d, _ := adapter.LookupDialect("sqlite")
	r := newRenderer(d)
	e.render(r)
	return r.sb.String()
}

// Field is a column reference or an aggregate over one.
type Field struct {
	table string
	name  string
	fn    string
	alias string
}

var (
	_ sqlExpr           = (*Field)(nil)
	_ starlark.HasAttrs = (*Field)(nil)
)

func (f *Field) render(r *renderer) {
	if f.fn != "" {
		r.write(f.fn + "(")
		if f.name == "*" && f.table == "" {
			r.write("*")
		} else {
			f.column(r)
		}
		r.write(")")
		return
	}
	f.column(r)
}

func (f *Field) column(r *renderer) {
	if f.table != "" {
		r.ident(f.table + "." + f.name)
		return
	}
	r.ident(f.name)
}

// renderSelect writes the field with its alias, for select lists.
func (f *Field) renderSelect(r *renderer) {
	f.render(r)
	if f.alias != "" {
		r.write(" AS ")
		r.ident(f.alias)
	}
}

func (f *Field) String() string        { return "field(" + preview(f) + ")" }
func (f *Field) Type() string          { return "field" }
func (f *Field) Freeze()               {}
func (f *Field) Truth() starlark.Bool  { return starlark.True }
func (f *Field) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: field") }

var fieldMethods = []string{"as_", "asc", "desc", "eq", "ge", "gt", "in_", "is_not_null", "is_null", "le", "like", "lt", "ne"}

var comparisons = map[string]string{
	"eq":   "=",
	"ne":   "<>",
	"lt":   "<",
	"le":   "<=",
	"gt":   ">",
	"ge":   ">=",
	"like": "LIKE",
}

func (f *Field) Attr(name string) (starlark.Value, error) {
	if op, ok := comparisons[name]; ok {
		return starlark.NewBuiltin("field."+name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var v starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
				return nil, err
			}
			return compare(f, op, v), nil
		}), nil
	}

	switch name {
	case "in_":
		return starlark.NewBuiltin("field.in_", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var values starlark.Iterable
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &values); err != nil {
				return nil, err
			}
			return inList(f, values), nil
		}), nil
	case "is_null", "is_not_null":
		test := "IS NULL"
		if name == "is_not_null" {
			test = "IS NOT NULL"
		}
		return starlark.NewBuiltin("field."+name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			return &Condition{text: func(r *renderer) {
				f.render(r)
				r.write(" " + test)
			}}, nil
		}), nil
	case "asc", "desc":
		return starlark.NewBuiltin("field."+name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			return &SortField{field: f, desc: name == "desc"}, nil
		}), nil
	case "as_":
		return starlark.NewBuiltin("field.as_", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var alias string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &alias); err != nil {
				return nil, err
			}
			aliased := *f
			aliased.alias = alias
			return &aliased, nil
		}), nil
	}
	return nil, nil
}

func (f *Field) AttrNames() []string {
	return fieldMethods
}

func compare(f sqlExpr, op string, v starlark.Value) *Condition {
	if v == starlark.None && (op == "=" || op == "<>") {
		test := "IS NULL"
		if op == "<>" {
			test = "IS NOT NULL"
		}
		return &Condition{text: func(r *renderer) {
			f.render(r)
			r.write(" " + test)
		}}
	}
	return &Condition{text: func(r *renderer) {
		f.render(r)
		r.write(" " + op + " ")
		r.operand(v)
	}}
}

func inList(f sqlExpr, values starlark.Iterable) *Condition {
	var items []starlark.Value
	iter := values.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		items = append(items, x)
	}
	if len(items) == 0 {
		return &Condition{text: func(r *renderer) { r.write("1 = 0") }}
	}
	return &Condition{text: func(r *renderer) {
		f.render(r)
		r.write(" IN (")
		for i, item := range items {
			if i > 0 {
				r.write(", ")
			}
			r.operand(item)
		}
		r.write(")")
	}}
}

// Condition is a boolean SQL expression. Conditions combine with & and |.
type Condition struct {
	text func(r *renderer)
}

var (
	_ sqlExpr            = (*Condition)(nil)
	_ starlark.HasAttrs  = (*Condition)(nil)
	_ starlark.HasBinary = (*Condition)(nil)
)

func (c *Condition) render(r *renderer) { c.text(r) }

func (c *Condition) String() string        { return "condition(" + preview(c) + ")" }
func (c *Condition) Type() string          { return "condition" }
func (c *Condition) Freeze()               {}
func (c *Condition) Truth() starlark.Bool  { return starlark.True }
func (c *Condition) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: condition") }

func (c *Condition) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	other, ok := y.(*Condition)
	if !ok {
		return nil, nil
	}
	left, right := c, other
	if side == starlark.Right {
		left, right = other, c
	}
	switch op {
	case syntax.AMP:
		return join("AND", left, right), nil
	case syntax.PIPE:
		return join("OR", left, right), nil
	}
	return nil, nil
}

func (c *Condition) Attr(name string) (starlark.Value, error) {
	switch name {
	case "and_", "or_":
		keyword := "AND"
		if name == "or_" {
			keyword = "OR"
		}
		return starlark.NewBuiltin("condition."+name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var other *Condition
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &other); err != nil {
				return nil, err
			}
			return join(keyword, c, other), nil
		}), nil
	case "not_":
		return starlark.NewBuiltin("condition.not_", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			return not(c), nil
		}), nil
	}
	return nil, nil
}

func (c *Condition) AttrNames() []string {
	return []string{"and_", "not_", "or_"}
}

func join(keyword string, conds ...*Condition) *Condition {
	return &Condition{text: func(r *renderer) {
		r.write("(")
		for i, cond := range conds {
			if i > 0 {
				r.write(" " + keyword + " ")
			}
			cond.render(r)
		}
		r.write(")")
	}}
}

func not(c *Condition) *Condition {
	return &Condition{text: func(r *renderer) {
		r.write("NOT (")
		c.render(r)
		r.write(")")
	}}
}

// SortField is an ORDER BY entry.
type SortField struct {
	field sqlExpr
	desc  bool
}

var _ sqlExpr = (*SortField)(nil)

func (s *SortField) render(r *renderer) {
	s.field.render(r)
	if s.desc {
		r.write(" DESC")
	} else {
		r.write(" ASC")
	}
}

func (s *SortField) String() string        { return "sort_field(" + preview(s) + ")" }
func (s *SortField) Type() string          { return "sort_field" }
func (s *SortField) Freeze()               {}
func (s *SortField) Truth() starlark.Bool  { return starlark.True }
func (s *SortField) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: sort_field") }

// Param is an explicit bind parameter, usable where a field is expected.
type Param struct {
	v starlark.Value
}

var _ sqlExpr = (*Param)(nil)

func (p *Param) render(r *renderer)    { r.bind(p.v) }
func (p *Param) String() string        { return "val(" + p.v.String() + ")" }
func (p *Param) Type() string          { return "val" }
func (p *Param) Freeze()               { p.v.Freeze() }
func (p *Param) Truth() starlark.Bool  { return starlark.True }
func (p *Param) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: val") }

// Table is a table reference. Attributes resolve to its columns.
type Table struct {
	name    string
	alias   string
	columns []string
}

var _ starlark.HasAttrs = (*Table)(nil)

func (t *Table) ref() string {
	if t.alias != "" {
		return t.alias
	}
	return t.name
}

func (t *Table) renderFrom(r *renderer) {
	r.ident(t.name)
	if t.alias != "" {
		r.write(" AS ")
		r.ident(t.alias)
	}
}

func (t *Table) String() string        { return "table(" + t.name + ")" }
func (t *Table) Type() string          { return "table" }
func (t *Table) Freeze()               {}
func (t *Table) Truth() starlark.Bool  { return starlark.True }
func (t *Table) Hash() (uint32, error) { return starlark.String(t.name).Hash() }

func (t *Table) Attr(name string) (starlark.Value, error) {
	if name == "as_" {
		return starlark.NewBuiltin("table.as_", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var alias string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &alias); err != nil {
				return nil, err
			}
			return &Table{name: t.name, alias: alias, columns: t.columns}, nil
		}), nil
	}
	return &Field{table: t.ref(), name: name}, nil
}

// AttrNames lists the known columns, which are only known for tables
// obtained from a connected query builder.
func (t *Table) AttrNames() []string {
	return append([]string{"as_"}, t.columns...)
}

// toField accepts a field or a column name.
func toField(v starlark.Value) (sqlExpr, error) {
	switch x := v.(type) {
	case starlark.String:
		return &Field{name: string(x)}, nil
	case *Field:
		return x, nil
	case *Param:
		return x, nil
	}
	return nil, fmt.Errorf("expected field or column name, got %s", v.Type())
}
