package host

import (
	"errors"
	"fmt"
)

// Error is a host failure kind with a code that is stable across the wire.
type Error struct {
	Code uint32
	Desc string
}

func (e *Error) Error() string {
	return e.Desc
}

// CodeInternal marks an error that belongs to no registered kind.
const CodeInternal uint32 = 1

var (
	ErrInstantiateFailed       = register(4, "instantiate wasm contract failed")
	ErrExecuteFailed           = register(5, "execute wasm contract failed")
	ErrQueryFailed             = register(8, "query wasm contract failed")
	ErrMigrationFailed         = register(11, "migrate wasm contract failed")
	ErrOutOfGas                = register(13, "out of gas")
	ErrNoSuchContract          = register(22, "no such contract")
	ErrExceedMaxQueryStackSize = register(27, "max query stack size exceeded")
	ErrNoSuchCode              = register(28, "no such code")
	ErrUnsupportedQuery        = register(29, "unsupported query")
	ErrQueryTimeout            = register(30, "query deadline exceeded")
	ErrInvalidConfig           = register(31, "invalid host config")
)

var registry = map[uint32]*Error{}

func register(code uint32, desc string) *Error {
	if _, exists := registry[code]; exists {
		panic(fmt.Sprintf("host error code %d already registered", code))
	}
	e := &Error{Code: code, Desc: desc}
	registry[code] = e
	return e
}

// Code returns the code of the first host error kind found in err's chain.
func Code(err error) uint32 {
	if err == nil {
		return 0
	}
	var hostErr *Error
	if errors.As(err, &hostErr) {
		return hostErr.Code
	}
	return CodeInternal
}

// FromCode rebuilds an error for code that satisfies errors.Is against the
// matching sentinel. msg is the full remote message.
func FromCode(code uint32, msg string) error {
	kind, ok := registry[code]
	if !ok {
		return errors.New(msg)
	}
	if msg == "" || msg == kind.Desc {
		return kind
	}
	return &remoteError{kind: kind, msg: msg}
}

type remoteError struct {
	kind *Error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

// isGuardError reports whether err was raised by a query guard. Guard errors
// pass through every level of a chain without being wrapped again.
func isGuardError(err error) bool {
	return errors.Is(err, ErrExceedMaxQueryStackSize) ||
		errors.Is(err, ErrOutOfGas) ||
		errors.Is(err, ErrQueryTimeout)
}
