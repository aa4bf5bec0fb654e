package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/leaprepl/internal/database"
	"github.com/leapstack-labs/leaprepl/internal/engine"
	"github.com/leapstack-labs/leaprepl/internal/sandbox"
)

// Dispatcher runs every call in a fresh worker whose policy only grants
// opening and connecting to the call's database.
type Dispatcher struct {
	pool     *Pool
	resolver *sandbox.Resolver
	logger   *slog.Logger
}

var _ engine.Service = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher drawing workers from pool.
func NewDispatcher(pool *Pool, resolver *sandbox.Resolver, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{pool: pool, resolver: resolver, logger: logger}
}

// Handle is a call running in a worker.
type Handle struct {
	worker *Worker
	reply  <-chan result

	once sync.Once
	res  result
}

// Worker returns the worker running the call.
func (h *Handle) Worker() *Worker { return h.worker }

// Stop asks the worker to cancel the call. The call still answers; an
// evaluation reports that it was cancelled.
func (h *Handle) Stop() { h.worker.Stop() }

// Wait blocks until the call answered and returns the raw result.
func (h *Handle) Wait() (json.RawMessage, error) {
	h.once.Do(func() { h.res = <-h.reply })
	return h.res.data, h.res.err
}

// PolicyOf returns the sandbox policy of sessions bound to db, which may
// be nil: the database host and connection string are granted, nothing
// else is.
func PolicyOf(db *database.Descriptor) sandbox.Policy {
	if db == nil {
		return sandbox.ForHosts()
	}
	return sandbox.ForHosts(db.SandboxHostPort).WithDatabases(db.ConnectionString)
}

// PolicyFor returns the path of the policy of workers serving db.
func (d *Dispatcher) PolicyFor(db *database.Descriptor) (string, error) {
	return d.resolver.Resolve(PolicyOf(db))
}

// Prewarm readies workers for each database, and for calls without one.
func (d *Dispatcher) Prewarm(ctx context.Context, dbs ...*database.Descriptor) error {
	for _, db := range append([]*database.Descriptor{nil}, dbs...) {
		policy, err := d.PolicyFor(db)
		if err != nil {
			return err
		}
		if err := d.pool.Prewarm(ctx, policy); err != nil {
			return fmt.Errorf("failed to prewarm workers for %s: %w", db, err)
		}
	}
	return nil
}

// Dispatch sends a call to a fresh worker and returns without waiting for
// the answer.
func (d *Dispatcher) Dispatch(ctx context.Context, db *database.Descriptor, method string, req engine.Request) (*Handle, error) {
	policy, err := d.PolicyFor(db)
	if err != nil {
		return nil, err
	}
	w, err := d.pool.Checkout(ctx, policy)
	if err != nil {
		return nil, err
	}
	reply, err := w.call(method, Params{Database: db, Request: req})
	if err != nil {
		w.Terminate()
		return nil, err
	}
	d.logger.Debug("dispatched",
		slog.String("method", method),
		slog.String("worker", w.ID()),
		slog.String("database", db.String()))
	return &Handle{worker: w, reply: reply}, nil
}

// run dispatches a call and waits for it, stopping the worker when ctx is
// done.
func (d *Dispatcher) run(ctx context.Context, db *database.Descriptor, method string, req engine.Request) (json.RawMessage, error) {
	h, err := d.Dispatch(ctx, db, method, req)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, h.Stop)
	defer stop()
	return h.Wait()
}

// Evaluate implements engine.Service.
func (d *Dispatcher) Evaluate(ctx context.Context, db *database.Descriptor, req engine.Request) engine.Response {
	data, err := d.run(ctx, db, MethodEvaluate, req)
	if err == nil {
		var resp engine.Response
		if resp, err = engine.Decode(data); err == nil {
			return resp
		}
	}
	d.logger.Error("runtime fault", slog.String("database", db.String()), slog.Any("error", err))
	return &engine.RuntimeFault{Message: err.Error()}
}

// Suggest implements engine.Service.
func (d *Dispatcher) Suggest(ctx context.Context, db *database.Descriptor, req engine.Request) (engine.SuggestionResponse, error) {
	if err := req.CheckCursor(); err != nil {
		return engine.SuggestionResponse{}, err
	}
	data, err := d.run(ctx, db, MethodSuggest, req)
	if err != nil {
		return engine.SuggestionResponse{}, err
	}
	var resp engine.SuggestionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return engine.SuggestionResponse{}, fmt.Errorf("failed to decode suggestions: %w", err)
	}
	return resp, nil
}

// Document implements engine.Service.
func (d *Dispatcher) Document(ctx context.Context, db *database.Descriptor, req engine.Request) ([]engine.DocumentationEntry, error) {
	if err := req.CheckCursor(); err != nil {
		return nil, err
	}
	data, err := d.run(ctx, db, MethodDocument, req)
	if err != nil {
		return nil, err
	}
	var entries []engine.DocumentationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode documentation: %w", err)
	}
	return entries, nil
}
