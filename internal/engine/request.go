package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrCursorRequired is returned by suggest and document when the
	// request carries no cursor.
	ErrCursorRequired = errors.New("cursor position required")
	// ErrCursorOutOfRange is returned when the cursor lies outside the
	// script.
	ErrCursorOutOfRange = errors.New("cursor position out of range")
)

// Request is a script submitted for evaluation, completion or
// documentation. Cursor is a byte offset into Script.
type Request struct {
	Script string `json:"script"`
	Cursor *int   `json:"cursorPosition,omitempty"`
}

// At returns a copy of r with the cursor set.
func (r Request) At(cursor int) Request {
	r.Cursor = &cursor
	return r
}

// CheckCursor reports whether r carries a cursor inside the script.
func (r Request) CheckCursor() error {
	_, err := r.cursor()
	return err
}

// cursor returns the validated cursor.
func (r Request) cursor() (int, error) {
	if r.Cursor == nil {
		return 0, ErrCursorRequired
	}
	c := *r.Cursor
	if c < 0 || c > len(r.Script) {
		return 0, fmt.Errorf("%w: %d not in [0, %d]", ErrCursorOutOfRange, c, len(r.Script))
	}
	return c, nil
}

// Suggestion is one completion candidate.
type Suggestion struct {
	Continuation string `json:"continuation"`
	Insert       string `json:"insert"`
	MatchesType  bool   `json:"matchesType"`
}

// SuggestionResponse answers a completion request. Anchor and Cursor are in
// the coordinates of the submitted script.
type SuggestionResponse struct {
	Cursor      int          `json:"cursor"`
	Anchor      int          `json:"anchor"`
	Suggestions []Suggestion `json:"suggestions"`
}

// DocumentationEntry documents one candidate symbol.
type DocumentationEntry struct {
	Signature     string `json:"signature"`
	Documentation string `json:"documentation"`
}
