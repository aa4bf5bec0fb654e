// Package worker runs evaluations in sandboxed worker processes.
//
// The host talks to each worker over its stdin and stdout using JSON-RPC
// 2.0 messages framed with a Content-Length header. A worker announces
// itself with a "ready" notification, answers exactly one call and exits.
// The host may send a "stop" notification while the call runs to cancel
// it.
package worker

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/leapstack-labs/leaprepl/internal/database"
	"github.com/leapstack-labs/leaprepl/internal/engine"
)

// Calls a worker answers.
const (
	MethodEvaluate = "evaluate"
	MethodSuggest  = "suggest"
	MethodDocument = "document"
)

// Notifications.
const (
	notifyReady = "ready"
	notifyStop  = "stop"
)

// Error codes.
const (
	codeInvalidRequest   = -32600
	codeMethodNotFound   = -32601
	codeInvalidParams    = -32602
	codeInternal         = -32603
	codeCursorRequired   = -32001
	codeCursorOutOfRange = -32002
)

// Message is a JSON-RPC 2.0 message.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// Unwrap maps cursor errors back to the engine's sentinels.
func (e *RPCError) Unwrap() error {
	switch e.Code {
	case codeCursorRequired:
		return engine.ErrCursorRequired
	case codeCursorOutOfRange:
		return engine.ErrCursorOutOfRange
	default:
		return nil
	}
}

func rpcError(err error) *RPCError {
	switch {
	case errors.Is(err, engine.ErrCursorRequired):
		return &RPCError{Code: codeCursorRequired, Message: err.Error()}
	case errors.Is(err, engine.ErrCursorOutOfRange):
		return &RPCError{Code: codeCursorOutOfRange, Message: err.Error()}
	default:
		return &RPCError{Code: codeInternal, Message: err.Error()}
	}
}

// Params are the parameters of every call.
type Params struct {
	Database *database.Descriptor `json:"database,omitempty"`
	Request  engine.Request       `json:"request"`
}

// Conn reads and writes framed messages. Writes may come from several
// goroutines; reads may not.
type Conn struct {
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex
}

// NewConn creates a connection reading from r and writing to w.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{reader: bufio.NewReader(r), writer: w}
}

// Read reads the next message. It returns io.EOF when the peer closed the
// stream between messages.
func (c *Conn) Read() (*Message, error) {
	var contentLength int
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line != "" {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			break
		}

		if lengthStr, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			contentLength, err = strconv.Atoi(lengthStr)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
		}
	}

	if contentLength <= 0 {
		return nil, errors.New("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("error reading body: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("error parsing message: %w", err)
	}
	return &msg, nil
}

// Write writes msg, filling in the protocol version.
func (c *Conn) Write(msg *Message) error {
	msg.JSONRPC = "2.0"
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("error marshaling message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := fmt.Fprintf(c.writer, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return err
	}
	_, err = c.writer.Write(body)
	return err
}

// Call writes a request.
func (c *Conn) Call(id int64, method string, params any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("error marshaling params: %w", err)
	}
	return c.Write(&Message{ID: &id, Method: method, Params: data})
}

// Notify writes a notification.
func (c *Conn) Notify(method string) error {
	return c.Write(&Message{Method: method})
}

// Reply writes the response to the request with the given id.
func (c *Conn) Reply(id *int64, result json.RawMessage, rpcErr *RPCError) error {
	msg := &Message{ID: id, Error: rpcErr}
	if rpcErr == nil {
		msg.Result = result
	}
	return c.Write(msg)
}
