package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrWorkerTerminated is returned for calls to a worker that is gone.
var ErrWorkerTerminated = errors.New("worker terminated")

// State is the lifecycle state of a worker.
type State int32

// Worker states. A worker only moves forward through them.
const (
	Spawning State = iota
	Ready
	InUse
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Spawning:
		return "spawning"
	case Ready:
		return "ready"
	case InUse:
		return "in use"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Transport connects the host to a running worker.
type Transport struct {
	// In is the worker's input.
	In io.WriteCloser
	// Out is the worker's output.
	Out io.ReadCloser
	// Wait blocks until the worker has exited.
	Wait func() error
	// Kill ends the worker immediately.
	Kill func() error
}

type result struct {
	data json.RawMessage
	err  error
}

type (
	callCmd struct {
		method string
		params any
		reply  chan result
	}
	stopCmd      struct{}
	terminateCmd struct{}
)

// Worker is the host side of one worker. All state changes happen on the
// goroutine started by newWorker; the other methods send it commands.
type Worker struct {
	id           string
	policy       string
	conn         *Conn
	transport    Transport
	drainTimeout time.Duration
	logger       *slog.Logger

	state atomic.Int32
	cmds  chan any
	msgs  chan inbound
	ready chan struct{}
	done  chan struct{}
}

func newWorker(id, policy string, t Transport, drainTimeout time.Duration, logger *slog.Logger) *Worker {
	w := &Worker{
		id:           id,
		policy:       policy,
		conn:         NewConn(t.Out, t.In),
		transport:    t,
		drainTimeout: drainTimeout,
		logger:       logger.With(slog.String("worker", id)),
		cmds:         make(chan any),
		msgs:         make(chan inbound),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
	go w.read()
	go w.run()
	return w
}

// ID returns the worker's id.
func (w *Worker) ID() string { return w.id }

// Policy returns the path of the policy the worker runs under.
func (w *Worker) Policy() string { return w.policy }

// State returns the current state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Done is closed once the worker has terminated.
func (w *Worker) Done() <-chan struct{} { return w.done }

// WaitReady blocks until the worker announced itself.
func (w *Worker) WaitReady(ctx context.Context) error {
	select {
	case <-w.ready:
		return nil
	case <-w.done:
		return fmt.Errorf("worker %s: %w before becoming ready", w.id, ErrWorkerTerminated)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call sends a request to a ready worker. The returned channel receives
// the answer, or an error if the worker terminates first.
func (w *Worker) call(method string, params any) (<-chan result, error) {
	reply := make(chan result, 1)
	select {
	case w.cmds <- callCmd{method: method, params: params, reply: reply}:
		return reply, nil
	case <-w.done:
		return nil, fmt.Errorf("worker %s: %w", w.id, ErrWorkerTerminated)
	}
}

// Stop asks the worker to cancel its running call. It does nothing when
// no call is running.
func (w *Worker) Stop() {
	select {
	case w.cmds <- stopCmd{}:
	case <-w.done:
	}
}

// Terminate tears the worker down without waiting for it to exit.
func (w *Worker) Terminate() {
	select {
	case w.cmds <- terminateCmd{}:
	case <-w.done:
	}
}

func (w *Worker) read() {
	for {
		msg, err := w.conn.Read()
		select {
		case w.msgs <- inbound{msg: msg, err: err}:
		case <-w.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (w *Worker) setState(s State) {
	old := State(w.state.Swap(int32(s)))
	if old != s {
		w.logger.Debug("worker state changed", slog.String("from", old.String()), slog.String("to", s.String()))
	}
}

func (w *Worker) run() {
	var (
		pending chan result
		callID  int64
		exited  chan struct{}
		msgs    = w.msgs
	)

	fail := func(err error) {
		if pending != nil {
			pending <- result{err: err}
			pending = nil
		}
	}
	drain := func() {
		if exited != nil {
			return
		}
		w.setState(Draining)
		exited = make(chan struct{})
		go w.drain(exited)
	}

	for {
		select {
		case in := <-msgs:
			if in.err != nil {
				msgs = nil
				if !errors.Is(in.err, io.EOF) {
					w.logger.Warn("failed to read from worker", slog.Any("error", in.err))
				}
				fail(fmt.Errorf("worker %s: %w: %v", w.id, ErrWorkerTerminated, in.err))
				drain()
				continue
			}

			msg := in.msg
			switch {
			case msg.ID == nil && msg.Method == notifyReady:
				if w.State() == Spawning {
					w.setState(Ready)
					close(w.ready)
				}
			case msg.ID != nil && pending != nil && *msg.ID == callID:
				if msg.Error != nil {
					pending <- result{err: msg.Error}
				} else {
					pending <- result{data: msg.Result}
				}
				pending = nil
				drain()
			default:
				w.logger.Debug("ignoring unexpected message", slog.String("method", msg.Method))
			}

		case cmd := <-w.cmds:
			switch cmd := cmd.(type) {
			case callCmd:
				if s := w.State(); s != Ready {
					cmd.reply <- result{err: fmt.Errorf("worker %s is %s", w.id, s)}
					continue
				}
				callID++
				if err := w.conn.Call(callID, cmd.method, cmd.params); err != nil {
					cmd.reply <- result{err: fmt.Errorf("worker %s: failed to send %s: %w", w.id, cmd.method, err)}
					drain()
					continue
				}
				w.setState(InUse)
				pending = cmd.reply
			case stopCmd:
				if w.State() != InUse {
					continue
				}
				if err := w.conn.Notify(notifyStop); err != nil {
					w.logger.Debug("failed to send stop", slog.Any("error", err))
				}
			case terminateCmd:
				fail(fmt.Errorf("worker %s: %w", w.id, ErrWorkerTerminated))
				drain()
			}

		case <-exited:
			fail(fmt.Errorf("worker %s: %w", w.id, ErrWorkerTerminated))
			w.setState(Terminated)
			close(w.done)
			return
		}
	}
}

// drain closes the worker's input and gives it drainTimeout to exit before
// killing it.
func (w *Worker) drain(exited chan<- struct{}) {
	defer close(exited)
	_ = w.transport.In.Close()

	waited := make(chan error, 1)
	go func() { waited <- w.transport.Wait() }()

	timer := time.NewTimer(w.drainTimeout)
	defer timer.Stop()
	select {
	case err := <-waited:
		if err != nil {
			w.logger.Debug("worker exited", slog.Any("error", err))
		}
	case <-timer.C:
		w.logger.Warn("worker did not exit in time, killing it", slog.Duration("timeout", w.drainTimeout))
		if err := w.transport.Kill(); err != nil {
			w.logger.Warn("failed to kill worker", slog.Any("error", err))
		}
		<-waited
	}
	_ = w.transport.Out.Close()
}
