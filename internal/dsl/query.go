package dsl

import (
	"fmt"
	"strconv"

	"go.starlark.net/starlark"

	starctx "github.com/leapstack-labs/leaprepl/internal/starlark"
)

// SelectQuery is an immutable SELECT statement under construction. Every
// method returns a new query.
type SelectQuery struct {
	builder *QueryBuilder
	fields  []sqlExpr
	from    *Table
	where   []*Condition
	orderBy []*SortField
	limit   int
	offset  int
}

var _ starlark.HasAttrs = (*SelectQuery)(nil)

func newSelect(b *QueryBuilder, args starlark.Tuple) (*SelectQuery, error) {
	q := &SelectQuery{builder: b, limit: -1, offset: -1}
	for i, arg := range args {
		f, err := toField(arg)
		if err != nil {
			return nil, fmt.Errorf("select: argument %d: %w", i+1, err)
		}
		q.fields = append(q.fields, f)
	}
	return q, nil
}

func (q *SelectQuery) clone() *SelectQuery {
	c := *q
	c.fields = append([]sqlExpr(nil), q.fields...)
	c.where = append([]*Condition(nil), q.where...)
	c.orderBy = append([]*SortField(nil), q.orderBy...)
	return &c
}

// SQL renders the statement and its bind parameters.
func (q *SelectQuery) SQL() (string, []any, error) {
	r := newRenderer(q.builder.dialect)
	q.render(r)
	return r.sb.String(), r.params, r.err
}

func (q *SelectQuery) render(r *renderer) {
	r.write("SELECT ")
	if len(q.fields) == 0 {
		r.write("*")
	}
	for i, f := range q.fields {
		if i > 0 {
			r.write(", ")
		}
		if field, ok := f.(*Field); ok {
			field.renderSelect(r)
		} else {
			f.render(r)
		}
	}
	if q.from != nil {
		r.write(" FROM ")
		q.from.renderFrom(r)
	}
	if len(q.where) > 0 {
		r.write(" WHERE ")
		if len(q.where) == 1 {
			q.where[0].render(r)
		} else {
			join("AND", q.where...).render(r)
		}
	}
	for i, s := range q.orderBy {
		if i == 0 {
			r.write(" ORDER BY ")
		} else {
			r.write(", ")
		}
		s.render(r)
	}
	if q.limit >= 0 {
		r.write(" LIMIT " + strconv.Itoa(q.limit))
	}
	if q.offset >= 0 {
		r.write(" OFFSET " + strconv.Itoa(q.offset))
	}
}

func (q *SelectQuery) String() string {
	text, _, err := q.SQL()
	if err != nil {
		return "select_query(<invalid: " + err.Error() + ">)"
	}
	return text
}

func (q *SelectQuery) Type() string          { return "select_query" }
func (q *SelectQuery) Freeze()               {}
func (q *SelectQuery) Truth() starlark.Bool  { return starlark.True }
func (q *SelectQuery) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: select_query") }

var selectMethods = []string{"count", "fetch", "from_", "limit", "offset", "order_by", "params", "sql", "where"}

func (q *SelectQuery) AttrNames() []string {
	return selectMethods
}

func (q *SelectQuery) Attr(name string) (starlark.Value, error) {
	switch name {
	case "from_":
		return q.method(name, q.fromTable), nil
	case "where":
		return q.method(name, q.addWhere), nil
	case "order_by":
		return q.method(name, q.addOrderBy), nil
	case "limit", "offset":
		return q.method(name, func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var n int
			if err := starlark.UnpackPositionalArgs(name, args, kwargs, 1, &n); err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, fmt.Errorf("%s: must be non-negative, got %d", name, n)
			}
			c := q.clone()
			if name == "limit" {
				c.limit = n
			} else {
				c.offset = n
			}
			return c, nil
		}), nil
	case "sql":
		return q.method(name, func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(name, args, kwargs, 0); err != nil {
				return nil, err
			}
			text, _, err := q.SQL()
			if err != nil {
				return nil, err
			}
			return starlark.String(text), nil
		}), nil
	case "params":
		return q.method(name, func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(name, args, kwargs, 0); err != nil {
				return nil, err
			}
			_, params, err := q.SQL()
			if err != nil {
				return nil, err
			}
			values := make([]starlark.Value, len(params))
			for i, p := range params {
				values[i] = starctx.DisplayValue(p)
			}
			return starlark.NewList(values), nil
		}), nil
	case "fetch":
		return q.method(name, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(name, args, kwargs, 0); err != nil {
				return nil, err
			}
			text, params, err := q.SQL()
			if err != nil {
				return nil, err
			}
			res, err := q.builder.fetch(thread, text, params)
			if err != nil {
				return nil, err
			}
			if q.from != nil {
				res.table = q.from.name
			}
			return res, nil
		}), nil
	case "count":
		return q.method(name, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(name, args, kwargs, 0); err != nil {
				return nil, err
			}
			inner, params, err := q.SQL()
			if err != nil {
				return nil, err
			}
			res, err := q.builder.fetch(thread, "SELECT COUNT(*) FROM ("+inner+") AS q", params)
			if err != nil {
				return nil, err
			}
			if len(res.rows) != 1 || len(res.rows[0]) != 1 {
				return nil, fmt.Errorf("count: unexpected result shape")
			}
			return res.rows[0][0], nil
		}), nil
	}
	return nil, nil
}

type methodFunc func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func (q *SelectQuery) method(name string, fn methodFunc) *starlark.Builtin {
	return starlark.NewBuiltin("select_query."+name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return fn(thread, args, kwargs)
	})
}

func (q *SelectQuery) fromTable(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs("from_", args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	c := q.clone()
	switch t := v.(type) {
	case starlark.String:
		c.from = &Table{name: string(t)}
	case *Table:
		c.from = t
	default:
		return nil, fmt.Errorf("from_: expected table or table name, got %s", v.Type())
	}
	return c, nil
}

func (q *SelectQuery) addWhere(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("where: unexpected keyword arguments")
	}
	c := q.clone()
	for i, arg := range args {
		cond, ok := arg.(*Condition)
		if !ok {
			return nil, fmt.Errorf("where: argument %d: expected condition, got %s", i+1, arg.Type())
		}
		c.where = append(c.where, cond)
	}
	return c, nil
}

func (q *SelectQuery) addOrderBy(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("order_by: unexpected keyword arguments")
	}
	c := q.clone()
	for i, arg := range args {
		if s, ok := arg.(*SortField); ok {
			c.orderBy = append(c.orderBy, s)
			continue
		}
		f, err := toField(arg)
		if err != nil {
			return nil, fmt.Errorf("order_by: argument %d: %w", i+1, err)
		}
		c.orderBy = append(c.orderBy, &SortField{field: f})
	}
	return c, nil
}
