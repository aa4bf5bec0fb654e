package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/leapstack-labs/leaprepl/internal/engine"
)

type inbound struct {
	msg *Message
	err error
}

// Serve runs the worker side of the protocol: it announces readiness on w,
// answers the first call read from r with svc and returns once the answer
// is written. A stop notification cancels the running call. Serve returns
// nil when r is closed before a call arrives.
func Serve(ctx context.Context, r io.Reader, w io.Writer, svc engine.Service, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn := NewConn(r, w)
	if err := conn.Notify(notifyReady); err != nil {
		return fmt.Errorf("failed to announce readiness: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	quit := make(chan struct{})
	defer close(quit)
	msgs := make(chan inbound)
	go func() {
		for {
			msg, err := conn.Read()
			select {
			case msgs <- inbound{msg: msg, err: err}:
			case <-quit:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var replied chan error
	for {
		select {
		case in := <-msgs:
			if in.err != nil {
				if replied == nil {
					if errors.Is(in.err, io.EOF) {
						logger.Debug("host closed the connection")
						return nil
					}
					return fmt.Errorf("failed to read call: %w", in.err)
				}
				// The host is gone; the answer has nowhere to go.
				cancel()
				<-replied
				return fmt.Errorf("connection lost during call: %w", in.err)
			}

			msg := in.msg
			switch {
			case msg.ID == nil && msg.Method == notifyStop:
				logger.Debug("stop requested")
				cancel()
			case msg.ID == nil:
				logger.Debug("ignoring notification", slog.String("method", msg.Method))
			case replied != nil:
				_ = conn.Reply(msg.ID, nil, &RPCError{Code: codeInvalidRequest, Message: "worker is busy"})
			default:
				replied = make(chan error, 1)
				go func() {
					result, rpcErr := handle(ctx, svc, msg)
					replied <- conn.Reply(msg.ID, result, rpcErr)
				}()
			}
		case err := <-replied:
			if err != nil {
				return fmt.Errorf("failed to write answer: %w", err)
			}
			return nil
		}
	}
}

func handle(ctx context.Context, svc engine.Service, msg *Message) (json.RawMessage, *RPCError) {
	var p Params
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}

	var (
		result any
		err    error
	)
	switch msg.Method {
	case MethodEvaluate:
		data, encErr := engine.Encode(svc.Evaluate(ctx, p.Database, p.Request))
		if encErr != nil {
			return nil, rpcError(encErr)
		}
		return data, nil
	case MethodSuggest:
		result, err = svc.Suggest(ctx, p.Database, p.Request)
	case MethodDocument:
		result, err = svc.Document(ctx, p.Database, p.Request)
	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", msg.Method)}
	}
	if err != nil {
		return nil, rpcError(err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, rpcError(err)
	}
	return data, nil
}
