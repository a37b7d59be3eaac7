// Package nfserror defines the error taxonomy shared by every layer of
// the NFS-open driver (XDR, RPC session, protocol surfaces, and the
// driver state machine itself). It lives below pkg/nfsclient so that
// internal/protocol/* can construct these errors without importing
// pkg/nfsclient back, which would cycle; pkg/nfsclient re-exports the
// types under its own name as its public error contract.
package nfserror

import "fmt"

// Code classifies why an operation failed. The set is closed: every
// failure the driver can produce maps to exactly one of these.
type Code int

const (
	// InvalidArg covers a malformed URI or a nil external collaborator.
	InvalidArg Code = iota
	// NoBuffer covers allocation failure.
	NoBuffer
	// Unsupported covers a reply direction other than REPLY, or a
	// credential flavor outside {AUTH_NONE, AUTH_SYS}.
	Unsupported
	// Malformed covers truncated XDR or an inconsistent length prefix.
	Malformed
	// RPCRejected covers reply_state == MSG_DENIED.
	RPCRejected
	// RPCAcceptedError covers reply_state == MSG_ACCEPTED with a nonzero
	// accept_state (program mismatch, procedure unavailable, garbage args).
	RPCAcceptedError
	// Remote covers a nonzero protocol-level status (portmap, MOUNT, NFS).
	Remote
	// NotFound covers portmap returning port 0.
	NotFound
	// Network covers a transport-level failure: connect failed, reset, etc.
	Network
	// Cancelled covers the downstream sink closing before EOF.
	Cancelled
)

func (c Code) String() string {
	switch c {
	case InvalidArg:
		return "INVALID_ARG"
	case NoBuffer:
		return "NO_BUFFER"
	case Unsupported:
		return "UNSUPPORTED"
	case Malformed:
		return "MALFORMED"
	case RPCRejected:
		return "RPC_REJECTED"
	case RPCAcceptedError:
		return "RPC_ACCEPTED_ERROR"
	case Remote:
		return "REMOTE"
	case NotFound:
		return "NOT_FOUND"
	case Network:
		return "NETWORK"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Error is the single error type produced anywhere in the driver. Op
// names the operation that failed (e.g. "mount.Mnt", "rpc.Session.Call"),
// Status preserves the original wire-level code for REMOTE,
// RPC_REJECTED, and RPC_ACCEPTED_ERROR diagnostics, and Err wraps the
// lower-level cause when there is one.
type Error struct {
	Code   Code
	Op     string
	Status *uint32
	Err    error
}

// New constructs an Error with no preserved wire status.
func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// WithStatus attaches a wire-level status code for diagnostics and
// returns the same Error for chaining at the construction site.
func (e *Error) WithStatus(status uint32) *Error {
	e.Status = &status
	return e
}

func (e *Error) Error() string {
	if e.Status != nil {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (status=%d): %v", e.Op, e.Code, *e.Status, e.Err)
		}
		return fmt.Sprintf("%s: %s (status=%d)", e.Op, e.Code, *e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}
