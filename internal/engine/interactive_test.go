package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leaprepl/internal/database"
)

func openInteractive(t *testing.T, db *database.Descriptor) *Interactive {
	t.Helper()
	it, err := newEvaluator(t).Open(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = it.Close() })
	return it
}

func TestInteractive_InputsShareBindings(t *testing.T) {
	it := openInteractive(t, nil)
	ctx := context.Background()

	steps := []struct {
		input      string
		wantStatus Status
		want       string
	}{
		{input: "x = 5", wantStatus: StatusSuccess, want: "5\n"},
		{input: "print(\"hi\")", wantStatus: StatusSuccess, want: "hi\n"},
		{input: "x * 2", wantStatus: StatusSuccess, want: "10"},
		{input: "def twice(n):\n    return n * 2\n", wantStatus: StatusSuccess, want: NoResults},
		{input: "twice(x)", wantStatus: StatusSuccess, want: "10"},
		{input: "y = (1 +", wantStatus: StatusParseError},
		{input: "fail(\"boom\")", wantStatus: StatusEvaluationError},
		{input: "x + 1", wantStatus: StatusSuccess, want: "6"},
	}

	for _, step := range steps {
		resp := it.Evaluate(ctx, step.input)
		require.Equal(t, step.wantStatus, resp.Status(), "%q: %s", step.input, resp.Text())
		if step.want != "" {
			assert.Equal(t, step.want, resp.Text(), step.input)
		}
	}
}

func TestInteractive_StatementsRunOnce(t *testing.T) {
	it := openInteractive(t, demoDatabase(t))
	ctx := context.Background()

	resp := it.Evaluate(ctx, `n = db.execute("UPDATE products SET price = price + 1 WHERE id = 2")`)
	require.Equal(t, StatusSuccess, resp.Status(), resp.Text())
	assert.Equal(t, "1\n", resp.Text())

	for _, input := range []string{"print(1)", "print(2)", "n"} {
		resp := it.Evaluate(ctx, input)
		require.Equal(t, StatusSuccess, resp.Status(), resp.Text())
	}

	resp = it.Evaluate(ctx, `db.fetch_one("SELECT price FROM products WHERE id = 2")["price"]`)
	require.Equal(t, StatusSuccess, resp.Status(), resp.Text())
	assert.Equal(t, "190.0", resp.Text())
}

func TestInteractive_UsableAfterCancel(t *testing.T) {
	it := openInteractive(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)
	resp := it.Evaluate(ctx, "x = 1\nwhile True:\n    x += 1\n")
	require.Equal(t, StatusEvaluationError, resp.Status(), resp.Text())
	assert.Contains(t, resp.Text(), "Cancelled")

	resp = it.Evaluate(context.Background(), "x > 1")
	require.Equal(t, StatusSuccess, resp.Status(), resp.Text())
	assert.Equal(t, "True", resp.Text())
}

func TestInteractive_SetupFailure(t *testing.T) {
	db := demoDatabase(t)
	db.ScriptPrefix = `load("sql", "nope")`

	_, err := newEvaluator(t).Open(context.Background(), db)
	var setupErr *SetupError
	require.True(t, errors.As(err, &setupErr), "got %v", err)
	assert.Contains(t, setupErr.Message, "script prefix")
}

func TestInteractive_SuggestUsesLiveBindings(t *testing.T) {
	it := openInteractive(t, nil)
	require.Equal(t, StatusSuccess, it.Evaluate(context.Background(), "counter = 1").Status())

	resp, err := it.Suggest("cou", 3)
	require.NoError(t, err)
	var names []string
	for _, s := range resp.Suggestions {
		names = append(names, s.Continuation)
	}
	assert.Contains(t, names, "counter")
	assert.Equal(t, 0, resp.Anchor)
	assert.Equal(t, 3, resp.Cursor)

	_, err = it.Suggest("cou", 9)
	assert.ErrorIs(t, err, ErrCursorOutOfRange)

	docs, err := it.Document(`field("x")`, 3)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "sql.field(name)", docs[0].Signature)
}

func TestInteractive_Closed(t *testing.T) {
	it := openInteractive(t, nil)
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())

	resp := it.Evaluate(context.Background(), "1")
	assert.Equal(t, StatusRuntimeFault, resp.Status())
}
