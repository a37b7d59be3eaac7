package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so a log aggregator can query across the
// portmap/mount/nfs sessions and the driver state machine uniformly.
const (
	// ========================================================================
	// Driver / fetch identity
	// ========================================================================
	KeyHost    = "host"    // NFS server host
	KeySession = "session" // "portmap", "mount", or "nfs"
	KeyState   = "state"   // driver state name

	// ========================================================================
	// RPC
	// ========================================================================
	KeyXID         = "xid"          // RPC transaction id
	KeyProgram     = "program"      // RPC program number
	KeyProcedure   = "procedure"    // RPC procedure number
	KeyReplyState  = "reply_state"  // MSG_ACCEPTED(0) / MSG_DENIED(1)
	KeyAcceptState = "accept_state" // accept_stat when reply_state == 0

	// ========================================================================
	// NFS operation
	// ========================================================================
	KeyPath   = "path"   // export directory path
	KeyName   = "name"   // basename being looked up
	KeyHandle = "handle" // file handle, hex-encoded
	KeyOffset = "offset" // byte offset requested/delivered
	KeyCount  = "count"  // byte count requested/returned
	KeyEOF    = "eof"    // end-of-file flag on a READ reply
	KeySize   = "size"   // file size reported by post-op attributes

	// ========================================================================
	// Outcome
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyErrorCode  = "error_code"  // nfsclient.ErrorCode name
	KeyStatus     = "status"      // protocol-level status code (portmap/mount/nfs)
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// Host returns a slog.Attr for the NFS server host.
func Host(h string) slog.Attr {
	return slog.String(KeyHost, h)
}

// Session returns a slog.Attr for the RPC session name.
func Session(name string) slog.Attr {
	return slog.String(KeySession, name)
}

// State returns a slog.Attr for the driver state.
func State(name string) slog.Attr {
	return slog.String(KeyState, name)
}

// XID returns a slog.Attr for an RPC transaction id.
func XID(xid uint32) slog.Attr {
	return slog.Uint64(KeyXID, uint64(xid))
}

// Program returns a slog.Attr for an RPC program number.
func Program(prog uint32) slog.Attr {
	return slog.Uint64(KeyProgram, uint64(prog))
}

// Procedure returns a slog.Attr for an RPC procedure number.
func Procedure(proc uint32) slog.Attr {
	return slog.Uint64(KeyProcedure, uint64(proc))
}

// Path returns a slog.Attr for an export/directory path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Name returns a slog.Attr for a lookup basename.
func Name(n string) slog.Attr {
	return slog.String(KeyName, n)
}

// Handle returns a slog.Attr for a file handle, formatted as hex.
func Handle(h []byte) slog.Attr {
	return slog.String(KeyHandle, fmt.Sprintf("%x", h))
}

// Offset returns a slog.Attr for a byte offset.
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Count returns a slog.Attr for a byte count.
func Count(c uint32) slog.Attr {
	return slog.Uint64(KeyCount, uint64(c))
}

// EOF returns a slog.Attr for the end-of-file flag on a READ reply.
func EOF(eof bool) slog.Attr {
	return slog.Bool(KeyEOF, eof)
}

// Size returns a slog.Attr for a file size.
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error. Returns a zero Attr for a nil error
// so it can be appended unconditionally without polluting the log line.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for an nfsclient error code name.
func ErrorCode(code string) slog.Attr {
	return slog.String(KeyErrorCode, code)
}

// Status returns a slog.Attr for a protocol-level status code.
func Status(code uint32) slog.Attr {
	return slog.Uint64(KeyStatus, uint64(code))
}

// ReplyState returns a slog.Attr for the RPC reply_stat field.
func ReplyState(state uint32) slog.Attr {
	return slog.Uint64(KeyReplyState, uint64(state))
}

// AcceptState returns a slog.Attr for the RPC accept_stat field.
func AcceptState(state uint32) slog.Attr {
	return slog.Uint64(KeyAcceptState, uint64(state))
}
