package dsl

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.starlark.net/starlark"

	starctx "github.com/leapstack-labs/leaprepl/internal/starlark"
)

// Result is a fetched result set. It indexes and iterates as row tuples.
type Result struct {
	columns []string
	types   []string
	rows    [][]starlark.Value
	table   string
}

var (
	_ starlark.Indexable = (*Result)(nil)
	_ starlark.Sequence  = (*Result)(nil)
	_ starlark.HasAttrs  = (*Result)(nil)
)

func newResult(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &Result{columns: cols, types: make([]string, len(cols))}
	if colTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range colTypes {
			res.types[i] = ct.DatabaseTypeName()
		}
	}

	for rows.Next() {
		values := make([]any, len(cols))
		valuePtrs := make([]any, len(cols))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make([]starlark.Value, len(cols))
		for i, v := range values {
			// Convert []byte to string for readability
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[i] = starctx.DisplayValue(v)
		}
		res.rows = append(res.rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Result) String() string {
	var buf bytes.Buffer
	r.renderTable(&buf)
	return strings.TrimSuffix(buf.String(), "\n")
}

func (r *Result) Type() string          { return "result" }
func (r *Result) Freeze()               {}
func (r *Result) Truth() starlark.Bool  { return len(r.rows) > 0 }
func (r *Result) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: result") }
func (r *Result) Len() int              { return len(r.rows) }

func (r *Result) Index(i int) starlark.Value {
	return starlark.Tuple(r.rows[i])
}

func (r *Result) Iterate() starlark.Iterator {
	return &resultIterator{r: r}
}

type resultIterator struct {
	r *Result
	i int
}

func (it *resultIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.r.rows) {
		return false
	}
	*p = it.r.Index(it.i)
	it.i++
	return true
}

func (it *resultIterator) Done() {}

var resultAttrs = []string{"column", "columns", "format_json", "format_table", "records", "rows"}

func (r *Result) AttrNames() []string {
	return resultAttrs
}

func (r *Result) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		values := make([]starlark.Value, len(r.columns))
		for i, c := range r.columns {
			values[i] = starlark.String(c)
		}
		return starlark.NewList(values), nil
	case "rows":
		values := make([]starlark.Value, len(r.rows))
		for i := range r.rows {
			values[i] = r.Index(i)
		}
		return starlark.NewList(values), nil
	case "records":
		values := make([]starlark.Value, len(r.rows))
		for i := range r.rows {
			values[i] = r.record(i)
		}
		return starlark.NewList(values), nil
	case "column":
		return starlark.NewBuiltin("result.column", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var col string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &col); err != nil {
				return nil, err
			}
			idx := r.columnIndex(col)
			if idx < 0 {
				return nil, fmt.Errorf("result has no column %q (columns: %s)", col, strings.Join(r.columns, ", "))
			}
			values := make([]starlark.Value, len(r.rows))
			for i, row := range r.rows {
				values[i] = row[idx]
			}
			return starlark.NewList(values), nil
		}), nil
	case "format_json":
		return starlark.NewBuiltin("result.format_json", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			out, err := r.FormatJSON()
			if err != nil {
				return nil, err
			}
			return starlark.String(out), nil
		}), nil
	case "format_table":
		return starlark.NewBuiltin("result.format_table", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			return starlark.String(r.String()), nil
		}), nil
	}
	return nil, nil
}

func (r *Result) columnIndex(name string) int {
	for i, c := range r.columns {
		if c == name {
			return i
		}
	}
	return -1
}

// record returns row i as a dict keyed by column, or None past the end.
func (r *Result) record(i int) starlark.Value {
	if i >= len(r.rows) {
		return starlark.None
	}
	d := starlark.NewDict(len(r.columns))
	for j, c := range r.columns {
		_ = d.SetKey(starlark.String(c), r.rows[i][j])
	}
	return d
}

type gridField struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Table string `json:"table"`
}

type grid struct {
	Fields  []gridField `json:"fields"`
	Records [][]any     `json:"records"`
}

// FormatJSON renders the result as a grid document:
// {"fields": [{"name", "type", "table"}], "records": [[...]]}.
func (r *Result) FormatJSON() (string, error) {
	g := grid{Fields: make([]gridField, len(r.columns)), Records: make([][]any, len(r.rows))}
	for i, c := range r.columns {
		g.Fields[i] = gridField{Name: c, Type: r.types[i], Table: r.table}
	}
	for i, row := range r.rows {
		rec := make([]any, len(row))
		for j, v := range row {
			gv, err := starctx.ToGo(v)
			if err != nil {
				gv = v.String()
			}
			rec[j] = gv
		}
		g.Records[i] = rec
	}
	out, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(out), nil
}

func (r *Result) renderTable(buf *bytes.Buffer) {
	if len(r.rows) == 0 {
		_, _ = fmt.Fprintln(buf, "(0 rows)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(buf)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(r.columns))
	for i, col := range r.columns {
		headerRow[i] = col
	}
	t.AppendHeader(headerRow)

	for _, values := range r.rows {
		row := make(table.Row, len(values))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		t.AppendRow(row)
	}

	t.Render()
	_, _ = fmt.Fprintf(buf, "(%d rows)\n", len(r.rows))
}

func formatValue(v starlark.Value) string {
	if v == starlark.None {
		return "NULL"
	}
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}
