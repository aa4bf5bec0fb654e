package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leaprepl/internal/database"
	"github.com/leapstack-labs/leaprepl/internal/engine"
	"github.com/leapstack-labs/leaprepl/internal/sandbox"
	_ "github.com/leapstack-labs/leaprepl/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/leaprepl/pkg/adapters/sqlite"
)

func newDispatcher(t *testing.T, svc engine.Service) (*Dispatcher, *pipeSpawner) {
	t.Helper()
	s := &pipeSpawner{svc: svc}
	return NewDispatcher(newPool(t, s, 1), sandbox.NewResolver(t.TempDir(), nil), nil), s
}

func TestDispatcher_Evaluate(t *testing.T) {
	d, _ := newDispatcher(t, newEvaluator(t))

	resp := d.Evaluate(context.Background(), nil, engine.Request{Script: "1+1"})
	require.Equal(t, engine.StatusSuccess, resp.Status(), resp.Text())
	assert.Equal(t, "2", resp.Text())

	resp = d.Evaluate(context.Background(), nil, engine.Request{Script: "x = (1 +"})
	assert.Equal(t, engine.StatusParseError, resp.Status())
}

func TestDispatcher_SuggestAndDocument(t *testing.T) {
	d, _ := newDispatcher(t, newEvaluator(t))
	ctx := context.Background()
	script := `load("math", "floor")` + "\nflo"

	got, err := d.Suggest(ctx, nil, engine.Request{Script: script}.At(len(script)))
	require.NoError(t, err)
	assert.Contains(t, got.Suggestions, engine.Suggestion{Continuation: "floor", Insert: "or"})
	assert.Equal(t, len(script)-3, got.Anchor)

	_, err = d.Suggest(ctx, nil, engine.Request{Script: script})
	assert.ErrorIs(t, err, engine.ErrCursorRequired)

	_, err = d.Document(ctx, nil, engine.Request{Script: script}.At(len(script)+5))
	assert.ErrorIs(t, err, engine.ErrCursorOutOfRange)

	docs, err := d.Document(ctx, nil, engine.Request{Script: `field("x")`}.At(3))
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "sql.field(name)", docs[0].Signature)
}

func TestDispatcher_CursorCheckedBeforeCheckout(t *testing.T) {
	d, s := newDispatcher(t, &fakeService{})
	ctx := context.Background()
	before := s.spawned()

	tests := []struct {
		name string
		req  engine.Request
		want error
	}{
		{name: "missing", req: engine.Request{Script: "flo"}, want: engine.ErrCursorRequired},
		{name: "negative", req: engine.Request{Script: "flo"}.At(-1), want: engine.ErrCursorOutOfRange},
		{name: "past the end", req: engine.Request{Script: "flo"}.At(4), want: engine.ErrCursorOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Suggest(ctx, nil, tt.req)
			assert.ErrorIs(t, err, tt.want)
			_, err = d.Document(ctx, nil, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, before, s.spawned(), "no worker is spent on a bad cursor")
}

func TestPolicyOf(t *testing.T) {
	db, err := database.New("app", database.Settings{URL: "sqlite:/srv/app.db"})
	require.NoError(t, err)

	p := PolicyOf(db)
	assert.True(t, p.CanOpen(db.ConnectionString))
	assert.False(t, p.CanOpen("sqlite:/srv/other.db"))

	none := PolicyOf(nil)
	assert.False(t, none.CanOpen(db.ConnectionString))
	assert.True(t, none.Trusts(sandbox.ScopeStarlark))
}

func TestDispatcher_PolicyPerDatabase(t *testing.T) {
	d, s := newDispatcher(t, &fakeService{})
	db, err := database.New("app", database.Settings{URL: "postgres://db.internal:5433/app"})
	require.NoError(t, err)

	none, err := d.PolicyFor(nil)
	require.NoError(t, err)
	withDB, err := d.PolicyFor(db)
	require.NoError(t, err)
	assert.NotEqual(t, none, withDB)

	data, err := os.ReadFile(withDB)
	require.NoError(t, err)
	p, err := sandbox.Parse(data)
	require.NoError(t, err)
	assert.True(t, p.CanConnect(db.SandboxHostPort))
	assert.True(t, p.CanOpen(db.ConnectionString))
	assert.False(t, p.CanOpen("sqlite:/tmp/outside.db"))

	resp := d.Evaluate(context.Background(), db, engine.Request{Script: "1"})
	assert.Equal(t, engine.StatusSuccess, resp.Status())
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, withDB, s.policies[0])
}

func TestDispatcher_Prewarm(t *testing.T) {
	d, s := newDispatcher(t, &fakeService{})
	db, err := database.New("app", database.Settings{URL: "postgres://db.internal:5433/app"})
	require.NoError(t, err)

	require.NoError(t, d.Prewarm(context.Background(), db))
	assert.Equal(t, 2, s.spawned())
}

func TestDispatcher_CancelStopsWorker(t *testing.T) {
	d, _ := newDispatcher(t, newEvaluator(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	resp := d.Evaluate(ctx, nil, engine.Request{Script: "x = 1\nwhile True:\n    x += 1\n"})
	require.Equal(t, engine.StatusEvaluationError, resp.Status(), resp.Text())
	assert.Contains(t, resp.Text(), "Cancelled")
}

func TestDispatcher_HandleStop(t *testing.T) {
	d, _ := newDispatcher(t, &fakeService{evaluate: func(ctx context.Context) engine.Response {
		<-ctx.Done()
		return &engine.EvaluationError{Message: "Cancelled: stopped"}
	}})

	h, err := d.Dispatch(context.Background(), nil, MethodEvaluate, engine.Request{Script: "wait()"})
	require.NoError(t, err)
	h.Stop()

	data, err := h.Wait()
	require.NoError(t, err)
	resp, err := engine.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusEvaluationError, resp.Status())

	again, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, data, again)

	<-h.Worker().Done()
}

func TestDispatcher_WorkerFailureIsRuntimeFault(t *testing.T) {
	d, _ := newDispatcher(t, &fakeService{})
	d.pool.spawner = SpawnerFunc(func(context.Context, string, string) (Transport, error) {
		return Transport{}, os.ErrNotExist
	})

	resp := d.Evaluate(context.Background(), nil, engine.Request{Script: "1"})
	assert.Equal(t, engine.StatusRuntimeFault, resp.Status())
	assert.Contains(t, resp.Text(), "failed to spawn worker")

	_, err := d.Suggest(context.Background(), nil, engine.Request{Script: "1"}.At(1))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
