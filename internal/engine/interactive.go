package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/leapstack-labs/leaprepl/internal/database"
	"github.com/leapstack-labs/leaprepl/internal/shell"
)

// Interactive is a session that outlives a single call. Every Evaluate
// runs only the input it is given, against the bindings left by earlier
// inputs, so nothing is evaluated twice. An Interactive is not safe for
// concurrent use, except for Stop.
type Interactive struct {
	e  *Evaluator
	db *database.Descriptor
	sh shell.Shell

	out    bytes.Buffer
	errOut bytes.Buffer

	mu     sync.Mutex
	closed bool
}

// Open starts an interactive session bound to db, which may be nil. The
// connection unit and the script prefix run once, here. A failure to set
// up is returned as a *SetupError.
func (e *Evaluator) Open(ctx context.Context, db *database.Descriptor) (_ *Interactive, err error) {
	it := &Interactive{e: e, db: db}
	it.sh, err = e.open(shell.Config{Out: &it.out, Err: &it.errOut}, db)
	if err != nil {
		return nil, &SetupError{Message: err.Error()}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session setup panicked: %v", r)
		}
		if err != nil {
			e.release(it.sh)
		}
	}()

	setupErr, err := e.setup(ctx, it.sh, db)
	if err != nil {
		return nil, err
	}
	if setupErr != nil {
		return nil, setupErr
	}
	e.logger.Debug("interactive session opened", slog.String("database", db.String()))
	return it, nil
}

// Database returns the database the session is bound to, or nil.
func (it *Interactive) Database() *database.Descriptor {
	return it.db
}

// Evaluate runs input in the session. Output holds only what input printed.
// Units of input that ran before a failure keep their effects.
func (it *Interactive) Evaluate(ctx context.Context, input string) (resp Response) {
	began := time.Now()
	defer func() {
		if r := recover(); r != nil {
			resp = &RuntimeFault{Message: fmt.Sprintf("evaluation panicked: %v", r)}
			it.e.logger.Error("evaluation panicked",
				slog.String("database", it.db.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
		it.e.logger.Debug("evaluated input",
			slog.String("database", it.db.String()),
			slog.String("status", string(resp.Status())),
			slog.Duration("duration", time.Since(began)))
	}()

	if it.isClosed() {
		return &RuntimeFault{Message: "session is closed"}
	}
	if r, ok := it.sh.(shell.Resumer); ok {
		r.Resume()
	}
	it.out.Reset()
	it.errOut.Reset()

	resp, err := run(ctx, it.sh, input, &it.out, &it.errOut)
	if err != nil {
		it.e.logger.Error("runtime fault", slog.String("database", it.db.String()), slog.Any("error", err))
		return &RuntimeFault{Message: err.Error()}
	}
	return resp
}

// Suggest returns completion candidates for code at cursor, resolved
// against the live bindings of the session.
func (it *Interactive) Suggest(code string, cursor int) (SuggestionResponse, error) {
	if err := (Request{Script: code}).At(cursor).CheckCursor(); err != nil {
		return SuggestionResponse{}, err
	}
	return suggestions(it.sh, code, cursor), nil
}

// Document returns documentation for the symbol of code at cursor.
func (it *Interactive) Document(code string, cursor int) ([]DocumentationEntry, error) {
	if err := (Request{Script: code}).At(cursor).CheckCursor(); err != nil {
		return nil, err
	}
	return documentation(it.sh, code, cursor), nil
}

// Stop interrupts a running Evaluate. The session stays usable.
func (it *Interactive) Stop() {
	it.sh.Stop()
}

// Close releases the session and its connections.
func (it *Interactive) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return nil
	}
	it.closed = true
	return it.sh.Close()
}

func (it *Interactive) isClosed() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.closed
}
