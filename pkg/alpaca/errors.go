package alpaca

import (
	"errors"
	"fmt"
)

// Standard Alpaca error numbers, as defined by the ASCOM specification.
// A device reports these inside an otherwise successful HTTP response.
const (
	CodeNotImplemented       = 0x400 // 1024
	CodeInvalidValue         = 0x401 // 1025
	CodeValueNotSet          = 0x402 // 1026
	CodeNotConnected         = 0x407 // 1031
	CodeInvalidWhileParked   = 0x408 // 1032
	CodeInvalidWhileSlaved   = 0x409 // 1033
	CodeInvalidOperation     = 0x40B // 1035
	CodeActionNotImplemented = 0x40C // 1036
)

// ErrorKind separates transport-level failures from application-level
// errors reported in the response envelope.
type ErrorKind int

const (
	// KindNetwork covers timeouts, refused connections and any other
	// failure to obtain a valid envelope. Always transient.
	KindNetwork ErrorKind = iota
	// KindProtocol is a nonzero ErrorNumber inside a valid envelope.
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the error type returned by the transport and all device clients.
type Error struct {
	Kind    ErrorKind
	Code    int // Alpaca error number, zero for network errors
	Message string
	Err     error // underlying error, if any
}

func (e *Error) Error() string {
	if e.Kind == KindProtocol {
		return fmt.Sprintf("alpaca: protocol error %d: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("alpaca: network error: %v", e.Err)
	}
	return fmt.Sprintf("alpaca: network error: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrUnknownProperty is returned by a device client when asked for a
// property or command outside its standard set.
var ErrUnknownProperty = errors.New("alpaca: unknown property")

func errorKind(err error, kind ErrorKind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

func errorCode(err error, codes ...int) bool {
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind != KindProtocol {
		return false
	}
	for _, c := range codes {
		if ae.Code == c {
			return true
		}
	}
	return false
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool { return errorKind(err, KindNetwork) }

// IsNotImplemented reports whether the device declared the member
// permanently unimplemented.
func IsNotImplemented(err error) bool {
	return errorCode(err, CodeNotImplemented, CodeActionNotImplemented)
}

// IsNotConnected reports whether the device considers itself disconnected.
func IsNotConnected(err error) bool { return errorCode(err, CodeNotConnected) }

// IsInvalidValue reports whether the device rejected a parameter value.
func IsInvalidValue(err error) bool { return errorCode(err, CodeInvalidValue) }

// IsInvalidOperation reports whether the operation is not allowed in the
// device's current state.
func IsInvalidOperation(err error) bool {
	return errorCode(err, CodeInvalidOperation, CodeInvalidWhileParked, CodeInvalidWhileSlaved)
}
