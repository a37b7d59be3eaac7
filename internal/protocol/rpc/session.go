package rpc

import (
	"context"
	"time"

	"github.com/marmos91/nfsboot/internal/logger"
	"github.com/marmos91/nfsboot/internal/nfserror"
	"github.com/marmos91/nfsboot/internal/protocol/xdr"
)

// RPC message direction, RFC 5531 §9.
const (
	dirCall  = 0
	dirReply = 1
)

// Reply status, RFC 5531 §9.
const (
	msgAccepted = 0
	msgDenied   = 1
)

const rpcVersion = 2

// ReplyCallback receives the decoder positioned just past the reply
// header, cued up at the start of procedure-specific results, or a
// non-nil error if the call failed at the RPC level (rejected, denied,
// or an accept error) before any protocol surface gets to decode
// anything.
type ReplyCallback func(dec *xdr.Decoder, err error)

type callDescriptor struct {
	xid     uint32
	frame   []byte
	onReply ReplyCallback
}

// Session owns one TCP transport and speaks ONC RPC v2 (RFC 5531) over
// it: framing calls with record marking, assigning transaction ids,
// and routing replies back to their originating call by xid.
type Session struct {
	transport Transport
	program   uint32
	version   uint32
	cred      Credential
	verf      Credential

	nextXID uint32
	pending map[uint32]*callDescriptor
	queue   []*callDescriptor
	closed  bool

	logCtx *logger.LogContext
}

// NewSession wraps transport for RPC calls to (program, version),
// using cred as the call credential and verf as its verifier. The
// session registers itself for the transport's callbacks immediately.
func NewSession(transport Transport, program, version uint32, cred, verf Credential) *Session {
	s := &Session{
		transport: transport,
		program:   program,
		version:   version,
		cred:      cred,
		verf:      verf,
		nextXID:   uint32(time.Now().UnixNano()),
		pending:   make(map[uint32]*callDescriptor),
	}
	transport.SetCallbacks(s.onRecv, s.onWindowOpenInternal, s.onTransportClose)
	return s
}

// SetLogContext attaches the session-scoped logging context (host and
// session name, e.g. "portmap"/"mount"/"nfs") that Call/onRecv tag
// each line with the outstanding xid. A session with no log context
// set logs nothing, which is the default for callers that don't care.
func (s *Session) SetLogContext(lc *logger.LogContext) {
	s.logCtx = lc
}

// Call builds and transmits (or queues, if the transport's window is
// currently closed) a call frame for procedure with pre-encoded
// arguments. It returns once the frame has been accepted for
// transmission or queuing — never once the reply has arrived.
func (s *Session) Call(procedure uint32, args []byte, onReply ReplyCallback) error {
	if s == nil {
		return nfserror.New(nfserror.InvalidArg, "rpc.Session.Call", nil)
	}
	if s.closed {
		return nfserror.New(nfserror.InvalidArg, "rpc.Session.Call", nil)
	}

	xid := s.nextXID
	s.nextXID++

	e := xdr.NewEncoder()
	e.WriteUint32(xid)
	e.WriteUint32(dirCall)
	e.WriteUint32(rpcVersion)
	e.WriteUint32(s.program)
	e.WriteUint32(s.version)
	e.WriteUint32(procedure)
	encodeCredential(e, s.cred)
	encodeCredential(e, s.verf)
	e.Write(args)

	frame := Frame(e.Bytes())
	desc := &callDescriptor{xid: xid, frame: frame, onReply: onReply}
	s.pending[xid] = desc
	s.logCall(xid, procedure)

	if len(s.queue) > 0 {
		// Preserve FIFO order: don't jump ahead of calls already
		// waiting for the window to reopen.
		s.queue = append(s.queue, desc)
		return nil
	}

	status, err := s.transport.Send(frame)
	if err != nil {
		delete(s.pending, xid)
		return nfserror.New(nfserror.Network, "rpc.Session.Call", err)
	}
	if status == SendWouldBlock {
		s.queue = append(s.queue, desc)
	}
	return nil
}

// logCall emits a Debug line tagged with this session's name and the
// newly assigned xid, when a log context has been attached.
func (s *Session) logCall(xid, procedure uint32) {
	if s.logCtx == nil {
		return
	}
	ctx := logger.WithContext(context.Background(), s.logCtx.WithXID(xid))
	logger.DebugCtx(ctx, "rpc call issued", logger.Program(s.program), logger.Procedure(procedure))
}

// logReply emits a Debug line reporting how a reply for xid resolved,
// when a log context has been attached.
func (s *Session) logReply(xid uint32, replyState, acceptState uint32) {
	if s.logCtx == nil {
		return
	}
	ctx := logger.WithContext(context.Background(), s.logCtx.WithXID(xid))
	logger.DebugCtx(ctx, "rpc reply dispatched", logger.ReplyState(replyState), logger.AcceptState(acceptState))
}

// onRecv parses one reassembled RPC reply, correlates it with its
// originating call by xid, and invokes that call's callback exactly
// once. A reply whose xid matches no pending call is a spurious reply
// and is silently discarded.
func (s *Session) onRecv(data []byte) {
	dec := xdr.NewDecoder(data)

	xid, err := dec.ReadUint32()
	if err != nil {
		return
	}
	direction, err := dec.ReadUint32()
	if err != nil {
		return
	}

	desc, ok := s.pending[xid]
	if !ok {
		return // spurious reply
	}

	if direction != dirReply {
		delete(s.pending, xid)
		desc.onReply(nil, nfserror.New(nfserror.Unsupported, "rpc.Session.OnDelivery", nil))
		return
	}

	replyState, err := dec.ReadUint32()
	if err != nil {
		delete(s.pending, xid)
		desc.onReply(nil, nfserror.New(nfserror.Malformed, "rpc.Session.OnDelivery", err))
		return
	}

	delete(s.pending, xid)

	if replyState == msgDenied {
		s.logReply(xid, replyState, 0)
		desc.onReply(nil, nfserror.New(nfserror.RPCRejected, "rpc.Session.OnDelivery", nil))
		return
	}
	if replyState != msgAccepted {
		desc.onReply(nil, nfserror.New(nfserror.Malformed, "rpc.Session.OnDelivery", nil))
		return
	}

	// MSG_ACCEPTED: verifier (flavor, length, body), then accept_state.
	if _, err := dec.ReadUint32(); err != nil { // verifier flavor
		desc.onReply(nil, nfserror.New(nfserror.Malformed, "rpc.Session.OnDelivery", err))
		return
	}
	if _, err := dec.ReadOpaqueMax(MaxFragmentSize); err != nil { // verifier body
		desc.onReply(nil, nfserror.New(nfserror.Malformed, "rpc.Session.OnDelivery", err))
		return
	}
	acceptState, err := dec.ReadUint32()
	if err != nil {
		desc.onReply(nil, nfserror.New(nfserror.Malformed, "rpc.Session.OnDelivery", err))
		return
	}
	s.logReply(xid, replyState, acceptState)
	if acceptState != 0 {
		desc.onReply(nil, nfserror.New(nfserror.RPCAcceptedError, "rpc.Session.OnDelivery", nil).WithStatus(acceptState))
		return
	}

	desc.onReply(dec, nil)
}

// onWindowOpenInternal drains the pending-call queue in FIFO order,
// stopping as soon as the queue empties or the transport reports its
// window closed again.
func (s *Session) onWindowOpenInternal() {
	for len(s.queue) > 0 {
		desc := s.queue[0]
		status, err := s.transport.Send(desc.frame)
		if err != nil {
			s.queue = s.queue[1:]
			delete(s.pending, desc.xid)
			desc.onReply(nil, nfserror.New(nfserror.Network, "rpc.Session.OnWindowOpen", err))
			continue
		}
		if status == SendWouldBlock {
			return
		}
		s.queue = s.queue[1:]
	}
}

// onTransportClose is registered with the transport so an
// unsolicited close (connection reset, EOF) tears this session down
// the same way an explicit Close would, just with a NETWORK cause
// instead of whatever status the driver would have chosen. Every call
// still awaiting a reply is resolved with a NETWORK error rather than
// left to hang forever — the driver only ever learns of a dead socket
// through one of its outstanding callbacks.
func (s *Session) onTransportClose(err error) {
	if s.closed {
		return
	}
	pending := s.pending
	s.pending = make(map[uint32]*callDescriptor)
	s.queue = nil
	for _, desc := range pending {
		desc.onReply(nil, nfserror.New(nfserror.Network, "rpc.Session.OnClose", err))
	}
}

func (s *Session) dropPending() {
	s.pending = make(map[uint32]*callDescriptor)
	s.queue = nil
}

// Close drops every pending-call and pending-reply entry without
// invoking any callback, then shuts the transport down with status.
func (s *Session) Close(status error) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.dropPending()
	return s.transport.Close(status)
}
