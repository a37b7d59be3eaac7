// Package mount implements the client side of MOUNT v3 (RFC 1813
// Appendix I): resolving an export's root file handle and releasing
// it. It has no I/O of its own; it composes calls through an
// *rpc.Session.
package mount

import (
	"github.com/marmos91/nfsboot/internal/nfserror"
	"github.com/marmos91/nfsboot/internal/protocol/rpc"
	"github.com/marmos91/nfsboot/internal/protocol/xdr"
)

// Program and version, RFC 1813 Appendix I.
const (
	Program = 100005
	Version = 3
)

// Procedure numbers.
const (
	ProcMnt  = 1
	ProcUmnt = 3
)

// MaxDirPath bounds the export path argument.
const MaxDirPath = 1024

// MaxFileHandle is NFS v3's file handle size ceiling (RFC 1813 §2.5.2).
const MaxFileHandle = 64

// MaxAuthFlavors bounds the advisory auth-flavor list MNT returns.
const MaxAuthFlavors = 16

// Status is the MOUNT reply status; 0 means MNT3_OK.
type Status uint32

const StatusOK Status = 0

// MntReply is what the driver keeps from a successful MNT call: the
// export's root file handle. The auth flavor list is parsed (so the
// decoder stays in sync) but otherwise discarded — this client only
// ever uses AUTH_SYS and doesn't need the server's advisory list.
type MntReply struct {
	FileHandle []byte
}

// Mnt requests the root file handle for dirpath. A nonzero status
// surfaces as REMOTE with the original code preserved.
func Mnt(session *rpc.Session, dirpath string, onReply func(*MntReply, error)) error {
	e := xdr.NewEncoder()
	e.WriteString(dirpath)

	return session.Call(ProcMnt, e.Bytes(), func(dec *xdr.Decoder, err error) {
		if err != nil {
			onReply(nil, err)
			return
		}
		status, derr := dec.ReadUint32()
		if derr != nil {
			onReply(nil, nfserror.New(nfserror.Malformed, "mount.Mnt", derr))
			return
		}
		if Status(status) != StatusOK {
			onReply(nil, nfserror.New(nfserror.Remote, "mount.Mnt", nil).WithStatus(status))
			return
		}
		fh, derr := dec.ReadOpaqueMax(MaxFileHandle)
		if derr != nil {
			onReply(nil, nfserror.New(nfserror.Malformed, "mount.Mnt", derr))
			return
		}
		if _, derr := dec.ReadUint32Array(MaxAuthFlavors); derr != nil {
			onReply(nil, nfserror.New(nfserror.Malformed, "mount.Mnt", derr))
			return
		}
		onReply(&MntReply{FileHandle: fh}, nil)
	})
}

// Umnt releases dirpath. The reply carries no result body.
func Umnt(session *rpc.Session, dirpath string, onReply func(error)) error {
	e := xdr.NewEncoder()
	e.WriteString(dirpath)

	return session.Call(ProcUmnt, e.Bytes(), func(_ *xdr.Decoder, err error) {
		onReply(err)
	})
}
