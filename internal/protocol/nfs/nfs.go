// Package nfs implements the client side of the NFS v3 operations this
// driver needs (RFC 1813): LOOKUP and READ. It has no I/O of its own;
// it composes calls through an *rpc.Session and decodes only the
// fields the driver actually uses, skipping the rest via the XDR
// decoder's fixed-size Skip.
package nfs

import (
	"github.com/marmos91/nfsboot/internal/nfserror"
	"github.com/marmos91/nfsboot/internal/protocol/rpc"
	"github.com/marmos91/nfsboot/internal/protocol/xdr"
)

// Program and version, RFC 1813 §2.
const (
	Program = 100003
	Version = 3
)

// Procedure numbers, RFC 1813 §3.
const (
	ProcLookup = 3
	ProcRead   = 6
)

// MaxFileHandle is NFS v3's file handle size ceiling.
const MaxFileHandle = 64

// MaxName bounds a single path component.
const MaxName = 255

// MaxReadData bounds a single READ reply's data payload; generous
// relative to the driver's RSIZE since a noncompliant server could in
// principle return more than requested.
const MaxReadData = 1 << 20

// fattr3Size is the XDR-encoded size of a fattr3 structure (RFC 1813
// §2.5.6): type, mode, nlink, uid, gid (5 x u32) then size, used, rdev
// (2 x u32), fsid, fileid, atime, mtime, ctime (3 x u64 + 2 x u64,
// each a pair of u32s) — 20 bytes of u32 fields followed by 8 x u64
// fields, 84 bytes total. The driver never needs any of it except the
// 8-byte size field immediately after the first 20 bytes, so the rest
// is always skipped rather than decoded field by field.
const fattr3Size = 84
const fattr3SizeFieldOffset = 20

// Status is the NFS v3 reply status; 0 means NFS3_OK.
type Status uint32

const StatusOK Status = 0

// LookupReply is what the driver keeps from a successful LOOKUP: the
// looked-up object's file handle. The object and directory post-op
// attributes are skipped to stay in sync with the wire.
type LookupReply struct {
	FileHandle []byte
}

// Lookup resolves name within the directory identified by dirFH. A
// nonzero status surfaces as REMOTE with the original code preserved.
func Lookup(session *rpc.Session, dirFH []byte, name string, onReply func(*LookupReply, error)) error {
	e := xdr.NewEncoder()
	e.WriteOpaque(dirFH)
	e.WriteString(name)

	return session.Call(ProcLookup, e.Bytes(), func(dec *xdr.Decoder, err error) {
		if err != nil {
			onReply(nil, err)
			return
		}
		status, derr := dec.ReadUint32()
		if derr != nil {
			onReply(nil, nfserror.New(nfserror.Malformed, "nfs.Lookup", derr))
			return
		}
		if Status(status) != StatusOK {
			onReply(nil, nfserror.New(nfserror.Remote, "nfs.Lookup", nil).WithStatus(status))
			return
		}

		fh, derr := dec.ReadOpaqueMax(MaxFileHandle)
		if derr != nil {
			onReply(nil, nfserror.New(nfserror.Malformed, "nfs.Lookup", derr))
			return
		}
		if derr := skipOptionalAttr(dec); derr != nil { // object attributes
			onReply(nil, nfserror.New(nfserror.Malformed, "nfs.Lookup", derr))
			return
		}
		if derr := skipOptionalAttr(dec); derr != nil { // directory attributes
			onReply(nil, nfserror.New(nfserror.Malformed, "nfs.Lookup", derr))
			return
		}

		onReply(&LookupReply{FileHandle: fh}, nil)
	})
}

// ReadReply is what the driver keeps from a successful READ: the
// bytes returned, whether the server reported EOF, and the file size
// from post-op attributes when the server included them. Size is nil
// when attributes were absent — this client never reads past where
// the wire actually says attributes end.
type ReadReply struct {
	Size  *uint64
	Count uint32
	EOF   bool
	Data  []byte
}

// Read requests up to count bytes starting at offset from the file
// identified by fh.
func Read(session *rpc.Session, fh []byte, offset uint64, count uint32, onReply func(*ReadReply, error)) error {
	e := xdr.NewEncoder()
	e.WriteOpaque(fh)
	e.WriteUint64(offset)
	e.WriteUint32(count)

	return session.Call(ProcRead, e.Bytes(), func(dec *xdr.Decoder, err error) {
		if err != nil {
			onReply(nil, err)
			return
		}
		status, derr := dec.ReadUint32()
		if derr != nil {
			onReply(nil, nfserror.New(nfserror.Malformed, "nfs.Read", derr))
			return
		}
		if Status(status) != StatusOK {
			onReply(nil, nfserror.New(nfserror.Remote, "nfs.Read", nil).WithStatus(status))
			return
		}

		size, derr := readOptionalSize(dec)
		if derr != nil {
			onReply(nil, nfserror.New(nfserror.Malformed, "nfs.Read", derr))
			return
		}
		gotCount, derr := dec.ReadUint32()
		if derr != nil {
			onReply(nil, nfserror.New(nfserror.Malformed, "nfs.Read", derr))
			return
		}
		eof, derr := dec.ReadBool()
		if derr != nil {
			onReply(nil, nfserror.New(nfserror.Malformed, "nfs.Read", derr))
			return
		}
		data, derr := dec.ReadOpaqueMax(MaxReadData)
		if derr != nil {
			onReply(nil, nfserror.New(nfserror.Malformed, "nfs.Read", derr))
			return
		}

		onReply(&ReadReply{Size: size, Count: gotCount, EOF: eof, Data: data}, nil)
	})
}

// skipOptionalAttr consumes a post_op_attr-shaped field (bool flag,
// then a fixed fattr3 body if the flag is set) without interpreting
// its contents.
func skipOptionalAttr(dec *xdr.Decoder) error {
	present, err := dec.ReadBool()
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	return dec.Skip(fattr3Size)
}

// readOptionalSize consumes a post_op_attr-shaped field and, when
// present, extracts the 8-byte size field at its known fixed offset.
func readOptionalSize(dec *xdr.Decoder) (*uint64, error) {
	present, err := dec.ReadBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	if err := dec.Skip(fattr3SizeFieldOffset); err != nil {
		return nil, err
	}
	size, err := dec.ReadUint64()
	if err != nil {
		return nil, err
	}
	if err := dec.Skip(fattr3Size - fattr3SizeFieldOffset - 8); err != nil {
		return nil, err
	}
	return &size, nil
}
