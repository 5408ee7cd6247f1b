package conn

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable failure category for bridge connection errors.
type Kind string

const (
	// KindConnectTimeout: the handshake did not complete in time.
	KindConnectTimeout Kind = "connect_timeout"
	// KindTransportError: the socket failed or closed underneath us.
	KindTransportError Kind = "transport_error"
	// KindAuthRejected: the gateway refused the connect request.
	KindAuthRejected Kind = "auth_rejected"
	// KindNotConnected: an RPC was issued without a live connection.
	KindNotConnected Kind = "not_connected"
	// KindRPCTimeout: no response arrived within the RPC deadline.
	KindRPCTimeout Kind = "rpc_timeout"
	// KindRPCRejected: the gateway answered ok:false.
	KindRPCRejected Kind = "rpc_rejected"
	// KindDisposed: the manager was disposed while the call was pending.
	KindDisposed Kind = "disposed"
)

// Error wraps a connection failure with its kind and, for gateway
// rejections, the server-reported error code.
type Error struct {
	Kind    Kind
	Message string
	Code    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the Kind from err, or "" when err is not a bridge error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
