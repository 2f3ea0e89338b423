package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a transport or peer failure. The numeric values are
// marshaled into ERROR_REPLY payloads and must stay stable.
type ErrorKind int32

const (
	KindNone             ErrorKind = 0
	KindGeneric          ErrorKind = 1
	KindIO               ErrorKind = 2
	KindNotSupported     ErrorKind = 3
	KindTimeout          ErrorKind = 4
	KindDisconnected     ErrorKind = 5
	KindFileNotFound     ErrorKind = 6
	KindExists           ErrorKind = 7
	KindConvert          ErrorKind = 8
	KindMisconfiguration ErrorKind = 9
	KindInitialization   ErrorKind = 10
	KindParameter        ErrorKind = 11
	KindExpected         ErrorKind = 12
	KindNoConnection     ErrorKind = 13
	KindTemporary        ErrorKind = 14
	KindLocked           ErrorKind = 15

	// KindProtocol marks a malformed or truncated frame. It is never sent by
	// a well-behaved peer; it is raised locally by the decoder.
	KindProtocol ErrorKind = 100
)

// String returns a short snake_case name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindGeneric:
		return "generic"
	case KindIO:
		return "io_error"
	case KindNotSupported:
		return "not_supported"
	case KindTimeout:
		return "timeout"
	case KindDisconnected:
		return "disconnected"
	case KindFileNotFound:
		return "file_not_found"
	case KindExists:
		return "exists"
	case KindConvert:
		return "convert"
	case KindMisconfiguration:
		return "misconfiguration"
	case KindInitialization:
		return "initialization"
	case KindParameter:
		return "parameter"
	case KindExpected:
		return "expected"
	case KindNoConnection:
		return "no_connection"
	case KindTemporary:
		return "temporary"
	case KindLocked:
		return "locked"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// MarshalText encodes the kind by name.
func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name produced by MarshalText.
func (k *ErrorKind) UnmarshalText(b []byte) error {
	for c := KindNone; c <= KindLocked; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	if string(b) == KindProtocol.String() {
		*k = KindProtocol
		return nil
	}
	return fmt.Errorf("types: unknown error kind %q", b)
}

// Error is a classified failure. It is what ERROR_REPLY, ERROR and
// QUEUE_ERROR messages carry on the wire.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

// NewError returns an *Error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under kind. The message is err's text; errors.Is
// and errors.As still see err through Unwrap.
func WrapError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), cause: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same Kind, so callers can write
// errors.Is(err, types.ErrTimeout).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is. They carry no message of their own.
var (
	ErrGeneric      = &Error{Kind: KindGeneric, Message: "generic error"}
	ErrIO           = &Error{Kind: KindIO, Message: "i/o error"}
	ErrNotSupported = &Error{Kind: KindNotSupported, Message: "not supported"}
	ErrTimeout      = &Error{Kind: KindTimeout, Message: "timeout"}
	ErrDisconnected = &Error{Kind: KindDisconnected, Message: "disconnected"}
	ErrParameter    = &Error{Kind: KindParameter, Message: "invalid parameter"}
	ErrProtocol     = &Error{Kind: KindProtocol, Message: "protocol error"}
)

// KindOf returns the kind of the first *Error in err's chain, KindGeneric for
// any other non-nil error, and KindNone for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}
