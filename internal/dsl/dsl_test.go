package dsl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leaprepl/internal/demo"
	"github.com/leapstack-labs/leaprepl/internal/sandbox"
	"github.com/leapstack-labs/leaprepl/internal/shell"
	"github.com/leapstack-labs/leaprepl/internal/starshell"
	"github.com/leapstack-labs/leaprepl/internal/testutil"
)

func newSession(t *testing.T, opts Options) (*starshell.Session, *bytes.Buffer) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testutil.NewTestLogger(t)
	}
	var out bytes.Buffer
	env := NewEnv(opts)
	s := starshell.New(shell.Config{Out: &out}, env.SessionOptions()...)
	t.Cleanup(func() { _ = s.Close() })
	mustEval(t, s, DefaultPrefix)
	return s, &out
}

func connectedSession(t *testing.T) (*starshell.Session, *bytes.Buffer) {
	t.Helper()
	url, err := demo.Create(context.Background(), filepath.Join(t.TempDir(), "demo.db"))
	require.NoError(t, err)

	s, out := newSession(t, Options{})
	mustEval(t, s, `db = connect("`+url+`")`)
	return s, out
}

func mustEval(t *testing.T, s *starshell.Session, src string) shell.Event {
	t.Helper()
	events, err := s.Eval(context.Background(), src)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	ev := events[0]
	require.Equal(t, shell.StatusValid, ev.Status, "rejected: %s %v", src, s.Diagnostics(ev.Snippet))
	require.NoError(t, ev.Err, src)
	return ev
}

// global evaluates expr into a fresh global and returns its value.
func global(t *testing.T, s *starshell.Session, expr string) starlark.Value {
	t.Helper()
	mustEval(t, s, "out_value = "+expr)
	v, ok := s.Global("out_value")
	require.True(t, ok)
	return v
}

func str(t *testing.T, s *starshell.Session, expr string) string {
	t.Helper()
	v, ok := starlark.AsString(global(t, s, expr))
	require.True(t, ok, "%s is not a string", expr)
	return v
}

func TestSelect_SQL(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
		expr    string
		want    string
	}{
		{
			name:    "everything",
			dialect: "sqlite",
			expr:    `db.select().from_("orders")`,
			want:    `SELECT * FROM "orders"`,
		},
		{
			name:    "postgres placeholders and aliases",
			dialect: "postgres",
			expr:    `db.select("name", field("total").as_("t")).from_("orders").where(field("total").gt(10), field("note").eq(None)).order_by(desc("total")).limit(5)`,
			want:    `SELECT "name", "total" AS "t" FROM "orders" WHERE ("total" > $1 AND "note" IS NULL) ORDER BY "total" DESC LIMIT 5`,
		},
		{
			name:    "combined conditions",
			dialect: "sqlite",
			expr:    `db.select().from_("t").where((field("a").eq(1) | field("b").eq(2)) & not_(field("c").like("x%")))`,
			want:    `SELECT * FROM "t" WHERE (("a" = ? OR "b" = ?) AND NOT ("c" LIKE ?))`,
		},
		{
			name:    "table aliases and aggregates",
			dialect: "duckdb",
			expr:    `db.select(table("orders").as_("o").id, count()).from_(table("orders").as_("o"))`,
			want:    `SELECT "o"."id", COUNT(*) FROM "orders" AS "o"`,
		},
		{
			name:    "in list and offset",
			dialect: "postgres",
			expr:    `db.select(count("id")).from_("orders").where(field("id").in_([1, 2]), field("x").is_not_null()).order_by("id", asc("y")).offset(3)`,
			want:    `SELECT COUNT("id") FROM "orders" WHERE ("id" IN ($1, $2) AND "x" IS NOT NULL) ORDER BY "id" ASC, "y" ASC OFFSET 3`,
		},
		{
			name:    "empty in list",
			dialect: "sqlite",
			expr:    `db.select().from_("t").where(field("id").in_([]))`,
			want:    `SELECT * FROM "t" WHERE 1 = 0`,
		},
		{
			name:    "bound value in select",
			dialect: "sqlite",
			expr:    `db.select(val(1)).where(field("a").ne(val("b")).or_(field("c").le(2)))`,
			want:    `SELECT ? WHERE ("a" <> ? OR "c" <= ?)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newSession(t, Options{})
			mustEval(t, s, `db = offline("`+tt.dialect+`")`)

			assert.Equal(t, tt.want, str(t, s, tt.expr+".sql()"))
		})
	}
}

func TestSelect_IsImmutable(t *testing.T) {
	s, _ := newSession(t, Options{})
	mustEval(t, s, `db = offline("sqlite")`)
	mustEval(t, s, `base = db.select("id").from_("orders")`)
	mustEval(t, s, `limited = base.limit(1)`)

	assert.Equal(t, `SELECT "id" FROM "orders"`, str(t, s, "base.sql()"))
	assert.Equal(t, `SELECT "id" FROM "orders" LIMIT 1`, str(t, s, "limited.sql()"))
}

func TestSelect_Params(t *testing.T) {
	s, _ := newSession(t, Options{})
	mustEval(t, s, `db = offline("postgres")`)

	v := global(t, s, `db.select().from_("t").where(field("a").eq("x"), field("b").gt(2.5)).params()`)
	assert.Equal(t, `["x", 2.5]`, v.String())
}

func TestOffline(t *testing.T) {
	s, _ := newSession(t, Options{})
	mustEval(t, s, `db = offline("postgres")`)

	assert.Equal(t, "postgres", str(t, s, "db.dialect"))
	assert.Equal(t, "query_builder(postgres, offline)", global(t, s, "db").String())

	events, err := s.Eval(context.Background(), `db.fetch("SELECT 1")`)
	require.NoError(t, err)
	require.Error(t, events[0].Err)
	assert.True(t, errors.Is(events[0].Err, ErrOffline))

	events, err = s.Eval(context.Background(), `offline("oracle")`)
	require.NoError(t, err)
	assert.ErrorContains(t, events[0].Err, `unknown dialect "oracle"`)
}

func TestConnected_Fetch(t *testing.T) {
	s, _ := connectedSession(t)

	mustEval(t, s, `r = db.select("id", "name").from_("customers").where(field("country").eq("US")).order_by("id").fetch()`)
	r, ok := s.Global("r")
	require.True(t, ok)
	res, ok := r.(*Result)
	require.True(t, ok)

	assert.Equal(t, 2, res.Len())
	assert.Equal(t, `["id", "name"]`, global(t, s, "r.columns").String())
	assert.Equal(t, "Grace Hopper", str(t, s, "r[0][1]"))
	assert.Equal(t, `["Grace Hopper", "Barbara Liskov"]`, global(t, s, `r.column("name")`).String())
	assert.Equal(t, `[2, 4]`, global(t, s, `[row[0] for row in r]`).String())
	assert.Equal(t, "Barbara Liskov", str(t, s, `r.records[1]["name"]`))
}

func TestConnected_RawStatements(t *testing.T) {
	s, _ := connectedSession(t)

	assert.Equal(t, "4", global(t, s, `db.select().from_("orders").where(field("quantity").gt(1)).count()`).String())
	assert.Equal(t, "Monitor", str(t, s, `db.fetch_one("SELECT name FROM products WHERE id = ?", 2)["name"]`))
	assert.Equal(t, "None", global(t, s, `db.fetch_one("SELECT name FROM products WHERE id = ?", 99)`).String())
	assert.Equal(t, "2", global(t, s, `db.execute("UPDATE products SET price = price + 1 WHERE category = ?", "hardware")`).String())
	assert.Equal(t, `["customers", "orders", "products"]`, global(t, s, "db.tables()").String())

	v := global(t, s, `db.describe("orders")`)
	desc, ok := v.(*Result)
	require.True(t, ok)
	assert.Equal(t, 6, desc.Len())
}

func TestConnected_TableColumnsAreKnown(t *testing.T) {
	s, _ := connectedSession(t)
	mustEval(t, s, `c = db.table("customers")`)

	got, _ := s.Suggestions("c.na", 4)
	require.NotEmpty(t, got)
	assert.Equal(t, "name", got[0].Continuation)
	assert.True(t, got[0].MatchesType)
}

func TestResult_Format(t *testing.T) {
	s, _ := connectedSession(t)
	mustEval(t, s, `r = db.select("id", "name").from_("customers").where(field("id").le(2)).order_by("id").fetch()`)

	table := global(t, s, "r").String()
	assert.Contains(t, table, "Ada Lovelace")
	assert.Contains(t, table, "(2 rows)")

	var doc struct {
		Fields []struct {
			Name  string `json:"name"`
			Type  string `json:"type"`
			Table string `json:"table"`
		} `json:"fields"`
		Records [][]any `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(str(t, s, "r.format_json()")), &doc))
	require.Len(t, doc.Fields, 2)
	assert.Equal(t, "id", doc.Fields[0].Name)
	assert.Equal(t, "INTEGER", doc.Fields[0].Type)
	assert.Equal(t, "customers", doc.Fields[0].Table)
	assert.Equal(t, [][]any{{float64(1), "Ada Lovelace"}, {float64(2), "Grace Hopper"}}, doc.Records)

	mustEval(t, s, `empty = db.fetch("SELECT * FROM customers WHERE id < 0")`)
	assert.Equal(t, "(0 rows)", global(t, s, "empty").String())
	assert.False(t, bool(global(t, s, "bool(empty)").Truth()))
}

func TestConnect_Errors(t *testing.T) {
	s, _ := newSession(t, Options{})

	events, err := s.Eval(context.Background(), `connect("oracle://db")`)
	require.NoError(t, err)
	assert.ErrorContains(t, events[0].Err, "no adapter for connection scheme")
}

func TestConnect_GuardedByPolicy(t *testing.T) {
	dir := t.TempDir()
	granted, err := demo.Create(context.Background(), filepath.Join(dir, "demo.db"))
	require.NoError(t, err)
	outside := filepath.Join(dir, "outside.db")

	guard := sandbox.NewGuard(sandbox.ForHosts().WithDatabases(granted), testutil.NewTestLogger(t))
	s, _ := newSession(t, Options{Dial: guard.Dial, Lookup: guard.Lookup, Authorize: guard.Connect, Sandboxed: true})

	mustEval(t, s, `db = connect("`+granted+`")`)
	assert.Contains(t, global(t, s, `db.fetch("SELECT id FROM customers")`).String(), "(4 rows)")

	events, err := s.Eval(context.Background(), `x = connect("sqlite:`+outside+`")`)
	require.NoError(t, err)
	var perr *sandbox.PermissionError
	require.ErrorAs(t, events[0].Err, &perr)
	assert.Equal(t, sandbox.PermissionOpen, perr.Permission)
	assert.NoFileExists(t, outside)

	events, err = s.Eval(context.Background(), `db.execute("ATTACH DATABASE '`+outside+`' AS other")`)
	require.NoError(t, err)
	assert.Error(t, events[0].Err)
	assert.NoFileExists(t, outside)
}

func TestEnv_CloseClosesConnections(t *testing.T) {
	url, err := demo.Create(context.Background(), filepath.Join(t.TempDir(), "demo.db"))
	require.NoError(t, err)

	env := NewEnv(Options{Logger: testutil.NewTestLogger(t)})
	s := starshell.New(shell.Config{}, env.SessionOptions()...)
	mustEval(t, s, `db = connect("`+url+`")`)
	require.Len(t, env.conns, 1)

	require.NoError(t, s.Close())
	assert.Empty(t, env.conns)
}

func TestSetting(t *testing.T) {
	lookup := func(name string) (string, bool, error) {
		switch name {
		case "region":
			return "eu", true, nil
		case "secret":
			return "", false, errors.New("reading secret is not permitted")
		}
		return "", false, nil
	}
	s, _ := newSession(t, Options{Lookup: lookup})

	assert.Equal(t, "eu", str(t, s, `setting("region")`))
	assert.Equal(t, "fallback", str(t, s, `setting("missing", "fallback")`))
	assert.Equal(t, "None", global(t, s, `setting("missing")`).String())

	events, err := s.Eval(context.Background(), `setting("secret")`)
	require.NoError(t, err)
	assert.ErrorContains(t, events[0].Err, "not permitted")
}

func TestCompletionFollowsDocumentedReturns(t *testing.T) {
	s, _ := newSession(t, Options{})
	mustEval(t, s, `db = offline("sqlite")`)

	code := `db.select("a").fr`
	got, anchor := s.Suggestions(code, len(code))
	assert.Equal(t, len(code)-2, anchor)
	require.Len(t, got, 1)
	assert.Equal(t, shell.Suggestion{Continuation: "from_", Insert: "om_", MatchesType: true}, got[0])

	docs := s.Documentation("db.fetch", 8)
	require.NotEmpty(t, docs)
	assert.Equal(t, "query_builder.fetch(sql, *params)", docs[0].Signature)

	docs = s.Documentation("connect", 7)
	require.NotEmpty(t, docs)
	assert.Equal(t, "connect(url, user=None, password=None)", docs[0].Signature)

	assert.Equal(t, "select_query", s.AnalyzeType(`q = db.select()`+"\nq", len(`q = db.select()`+"\nq")))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "postgres://ada:xxxxx@db/app", redact("postgres://ada:secret@db/app"))
	assert.Equal(t, "sqlite:demo.db", redact("sqlite:demo.db"))
}
