// Package portmap implements the client side of Portmap v2 (RFC 1833),
// used only to resolve the TCP port MOUNT and NFS listen on. It has no
// I/O of its own; it composes calls through an *rpc.Session.
package portmap

import (
	"github.com/marmos91/nfsboot/internal/nfserror"
	"github.com/marmos91/nfsboot/internal/protocol/rpc"
	"github.com/marmos91/nfsboot/internal/protocol/xdr"
)

// Program and version, RFC 1833 §3.
const (
	Program = 100000
	Version = 2
)

// Procedure numbers.
const (
	ProcGetPort = 3
)

// ProtoTCP is the "protocol" argument value for GETPORT: IPPROTO_TCP.
const ProtoTCP = 6

// GetPort asks the server which port the given (program, version,
// protocol) triple listens on. onReply receives the resolved port, or
// a NOT_FOUND error when the server reports port 0, meaning the
// program isn't registered (RFC 1833 §3).
func GetPort(session *rpc.Session, program, version, protocol uint32, onReply func(port uint32, err error)) error {
	e := xdr.NewEncoder()
	e.WriteUint32(program)
	e.WriteUint32(version)
	e.WriteUint32(protocol)
	e.WriteUint32(0) // port argument is always 0 on a GETPORT request

	return session.Call(ProcGetPort, e.Bytes(), func(dec *xdr.Decoder, err error) {
		if err != nil {
			onReply(0, err)
			return
		}
		port, derr := dec.ReadUint32()
		if derr != nil {
			onReply(0, nfserror.New(nfserror.Malformed, "portmap.GetPort", derr))
			return
		}
		if port == 0 {
			onReply(0, nfserror.New(nfserror.NotFound, "portmap.GetPort", nil))
			return
		}
		onReply(port, nil)
	})
}
