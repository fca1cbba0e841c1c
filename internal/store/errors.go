package store

import "errors"

// Kind is the sum type every GraphStore failure collapses into.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
	KindMalformed
)

// Error is the single error type repositories and the store layer return.
// Callers at the transport edge switch on Kind to pick an HTTP status or WS
// error payload.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(op string, err error) *Error    { return &Error{Kind: KindNotFound, Op: op, Err: err} }
func Conflict(op string, err error) *Error    { return &Error{Kind: KindConflict, Op: op, Err: err} }
func Unavailable(op string, err error) *Error { return &Error{Kind: KindUnavailable, Op: op, Err: err} }
func Malformed(op string, err error) *Error   { return &Error{Kind: KindMalformed, Op: op, Err: err} }
func Internal(op string, err error) *Error    { return &Error{Kind: KindInternal, Op: op, Err: err} }

// Is reports whether err is a *Error of the given kind, so callers can write
// `store.Is(err, store.KindNotFound)` instead of type-asserting by hand.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
