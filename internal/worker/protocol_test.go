package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leaprepl/internal/engine"
)

func TestConn_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf, &buf)

	require.NoError(t, c.Notify(notifyReady))
	require.NoError(t, c.Call(7, MethodEvaluate, Params{Request: engine.Request{Script: "1+1"}}))
	assert.True(t, strings.HasPrefix(buf.String(), "Content-Length: "))

	msg, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, "2.0", msg.JSONRPC)
	assert.Equal(t, notifyReady, msg.Method)
	assert.Nil(t, msg.ID)

	msg, err = c.Read()
	require.NoError(t, err)
	require.NotNil(t, msg.ID)
	assert.Equal(t, int64(7), *msg.ID)
	var p Params
	require.NoError(t, json.Unmarshal(msg.Params, &p))
	assert.Equal(t, "1+1", p.Request.Script)
	assert.Nil(t, p.Database)

	_, err = c.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConn_ReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"missing length", "Content-Type: x\r\n\r\n{}", "missing Content-Length"},
		{"bad length", "Content-Length: x\r\n\r\n{}", "invalid Content-Length"},
		{"short body", "Content-Length: 10\r\n\r\n{}", "error reading body"},
		{"bad json", "Content-Length: 2\r\n\r\n{x", "error parsing message"},
		{"truncated header", "Content-Len", "unexpected EOF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConn(strings.NewReader(tt.input), io.Discard).Read()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRPCError_MapsCursorErrors(t *testing.T) {
	tests := []struct {
		err    error
		code   int
		target error
	}{
		{engine.ErrCursorRequired, codeCursorRequired, engine.ErrCursorRequired},
		{fmt.Errorf("%w: 9 not in [0, 3]", engine.ErrCursorOutOfRange), codeCursorOutOfRange, engine.ErrCursorOutOfRange},
		{errors.New("boom"), codeInternal, nil},
	}

	for _, tt := range tests {
		rpcErr := rpcError(tt.err)
		assert.Equal(t, tt.code, rpcErr.Code)
		assert.Equal(t, tt.err.Error(), rpcErr.Error())
		assert.Equal(t, tt.target, rpcErr.Unwrap())
	}
}

// hostConn starts Serve on pipes and returns the host's end.
func hostConn(t *testing.T, svc engine.Service) (*Conn, io.Closer, <-chan error) {
	t.Helper()
	workerR, hostW := io.Pipe()
	hostR, workerW := io.Pipe()
	served := make(chan error, 1)
	go func() {
		served <- Serve(context.Background(), workerR, workerW, svc, nil)
		_ = workerW.Close()
	}()
	t.Cleanup(func() { _ = hostW.Close() })

	c := NewConn(hostR, hostW)
	msg, err := c.Read()
	require.NoError(t, err)
	require.Equal(t, notifyReady, msg.Method)
	return c, hostW, served
}

func TestServe_Evaluate(t *testing.T) {
	c, _, served := hostConn(t, newEvaluator(t))

	require.NoError(t, c.Call(1, MethodEvaluate, Params{Request: engine.Request{Script: "a = 1\na + 1"}}))
	msg, err := c.Read()
	require.NoError(t, err)
	require.Nil(t, msg.Error)

	resp, err := engine.Decode(msg.Result)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSuccess, resp.Status())
	assert.Equal(t, "2", resp.Text())

	require.NoError(t, <-served)
}

func TestServe_Stop(t *testing.T) {
	svc := &fakeService{evaluate: func(ctx context.Context) engine.Response {
		<-ctx.Done()
		return &engine.EvaluationError{Message: "Cancelled: " + ctx.Err().Error()}
	}}
	c, _, served := hostConn(t, svc)

	require.NoError(t, c.Call(1, MethodEvaluate, Params{}))
	require.NoError(t, c.Notify(notifyStop))

	msg, err := c.Read()
	require.NoError(t, err)
	resp, err := engine.Decode(msg.Result)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusEvaluationError, resp.Status())
	assert.Contains(t, resp.Text(), "Cancelled")
	require.NoError(t, <-served)
}

func TestServe_Errors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		params json.RawMessage
		code   int
	}{
		{"unknown method", "lint", json.RawMessage(`{}`), codeMethodNotFound},
		{"bad params", MethodEvaluate, json.RawMessage(`[]`), codeInvalidParams},
		{"cursor required", MethodSuggest, json.RawMessage(`{"request":{"script":"x"}}`), codeCursorRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, served := hostConn(t, newEvaluator(t))
			id := int64(3)
			require.NoError(t, c.Write(&Message{ID: &id, Method: tt.method, Params: tt.params}))

			msg, err := c.Read()
			require.NoError(t, err)
			require.NotNil(t, msg.Error)
			assert.Equal(t, tt.code, msg.Error.Code)
			require.NoError(t, <-served)
		})
	}
}

func TestServe_ClosedBeforeCall(t *testing.T) {
	_, closer, served := hostConn(t, newEvaluator(t))
	require.NoError(t, closer.Close())
	assert.NoError(t, <-served)
}
