package nfs

import (
	"bytes"
	"testing"

	"github.com/marmos91/nfsboot/internal/nfserror"
	"github.com/marmos91/nfsboot/internal/protocol/rpc"
	"github.com/marmos91/nfsboot/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	sent   [][]byte
	onRecv func([]byte)
}

func (f *fakeTransport) Send(frame []byte) (rpc.SendStatus, error) {
	f.sent = append(f.sent, frame)
	return rpc.SendOK, nil
}
func (f *fakeTransport) SetCallbacks(onRecv func([]byte), _ func(), _ func(error)) {
	f.onRecv = onRecv
}
func (f *fakeTransport) Close(error) error { return nil }

func acceptedReply(xid uint32, result []byte) []byte {
	e := xdr.NewEncoder()
	e.WriteUint32(xid)
	e.WriteUint32(1)
	e.WriteUint32(0)
	e.WriteUint32(0)
	e.WriteUint32(0)
	e.WriteUint32(0)
	e.Write(result)
	return e.Bytes()
}

func xidOf(frame []byte) uint32 {
	d := xdr.NewDecoder(frame[4:])
	xid, _ := d.ReadUint32()
	return xid
}

func newSession(tr *fakeTransport) *rpc.Session {
	return rpc.NewSession(tr, Program, Version, rpc.NoneCredential{}, rpc.NoneCredential{})
}

// fattr3Fixture builds a minimal, correctly-sized fattr3 body with the
// given size field planted at its real wire offset.
func fattr3Fixture(size uint64) []byte {
	e := xdr.NewEncoder()
	e.WriteUint32(1) // type = NF3REG
	e.WriteUint32(0644)
	e.WriteUint32(1) // nlink
	e.WriteUint32(0) // uid
	e.WriteUint32(0) // gid
	e.WriteUint64(size)
	e.WriteUint64(size) // used
	e.WriteUint64(0)    // rdev (2x u32 packed as one u64 here, fixed size is what matters)
	e.WriteUint64(0)    // fsid
	e.WriteUint64(0)    // fileid
	e.WriteUint64(0)    // atime
	e.WriteUint64(0)    // mtime
	e.WriteUint64(0)    // ctime
	if e.Len() != fattr3Size {
		panic("fattr3 fixture size drifted from fattr3Size")
	}
	return e.Bytes()
}

func TestLookupSuccess(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(tr)

	var reply *LookupReply
	var gotErr error
	require.NoError(t, Lookup(s, bytes.Repeat([]byte{0x01}, 32), "hello.txt", func(r *LookupReply, err error) {
		reply, gotErr = r, err
	}))

	fileFH := bytes.Repeat([]byte{0x02}, 32)
	result := xdr.NewEncoder()
	result.WriteUint32(0) // NFS3_OK
	result.WriteOpaque(fileFH)
	result.WriteBool(false) // object attributes absent
	result.WriteBool(false) // directory attributes absent
	tr.onRecv(acceptedReply(xidOf(tr.sent[0]), result.Bytes()))

	require.NoError(t, gotErr)
	require.NotNil(t, reply)
	assert.Equal(t, fileFH, reply.FileHandle)
}

func TestLookupSkipsAttributesWhenPresent(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(tr)

	var reply *LookupReply
	var gotErr error
	require.NoError(t, Lookup(s, bytes.Repeat([]byte{0x01}, 32), "hello.txt", func(r *LookupReply, err error) {
		reply, gotErr = r, err
	}))

	fileFH := bytes.Repeat([]byte{0x02}, 32)
	result := xdr.NewEncoder()
	result.WriteUint32(0)
	result.WriteOpaque(fileFH)
	result.WriteBool(true)
	result.Write(fattr3Fixture(5))
	result.WriteBool(true)
	result.Write(fattr3Fixture(4096))
	tr.onRecv(acceptedReply(xidOf(tr.sent[0]), result.Bytes()))

	require.NoError(t, gotErr)
	require.NotNil(t, reply)
	assert.Equal(t, fileFH, reply.FileHandle)
}

func TestLookupRemoteError(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(tr)

	var gotErr error
	require.NoError(t, Lookup(s, bytes.Repeat([]byte{0x01}, 32), "missing.txt", func(r *LookupReply, err error) {
		gotErr = err
	}))

	result := xdr.NewEncoder()
	result.WriteUint32(2) // NFS3ERR_NOENT
	tr.onRecv(acceptedReply(xidOf(tr.sent[0]), result.Bytes()))

	require.Error(t, gotErr)
	var nerr *nfserror.Error
	require.ErrorAs(t, gotErr, &nerr)
	assert.Equal(t, nfserror.Remote, nerr.Code)
	assert.Equal(t, uint32(2), *nerr.Status)
}

func TestReadExtractsSizeOnFirstReply(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(tr)

	var reply *ReadReply
	var gotErr error
	require.NoError(t, Read(s, bytes.Repeat([]byte{0x02}, 32), 0, 1300, func(r *ReadReply, err error) {
		reply, gotErr = r, err
	}))

	result := xdr.NewEncoder()
	result.WriteUint32(0) // NFS3_OK
	result.WriteBool(true)
	result.Write(fattr3Fixture(5))
	result.WriteUint32(5)
	result.WriteBool(true) // eof
	result.WriteOpaque([]byte("hello"))
	tr.onRecv(acceptedReply(xidOf(tr.sent[0]), result.Bytes()))

	require.NoError(t, gotErr)
	require.NotNil(t, reply)
	require.NotNil(t, reply.Size)
	assert.Equal(t, uint64(5), *reply.Size)
	assert.Equal(t, uint32(5), reply.Count)
	assert.True(t, reply.EOF)
	assert.Equal(t, []byte("hello"), reply.Data)
}

func TestReadOmitsSizeWhenAttributesAbsent(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(tr)

	var reply *ReadReply
	require.NoError(t, Read(s, bytes.Repeat([]byte{0x02}, 32), 1300, 1300, func(r *ReadReply, err error) {
		reply = r
	}))

	result := xdr.NewEncoder()
	result.WriteUint32(0)
	result.WriteBool(false) // attributes absent
	result.WriteUint32(1300)
	result.WriteBool(false)
	result.WriteOpaque(bytes.Repeat([]byte{0xaa}, 1300))
	tr.onRecv(acceptedReply(xidOf(tr.sent[0]), result.Bytes()))

	require.NotNil(t, reply)
	assert.Nil(t, reply.Size)
	assert.Equal(t, uint32(1300), reply.Count)
	assert.False(t, reply.EOF)
}

func TestReadRemoteError(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(tr)

	var gotErr error
	require.NoError(t, Read(s, bytes.Repeat([]byte{0x02}, 32), 0, 1300, func(r *ReadReply, err error) {
		gotErr = err
	}))

	result := xdr.NewEncoder()
	result.WriteUint32(5) // NFS3ERR_IO
	tr.onRecv(acceptedReply(xidOf(tr.sent[0]), result.Bytes()))

	require.Error(t, gotErr)
	var nerr *nfserror.Error
	require.ErrorAs(t, gotErr, &nerr)
	assert.Equal(t, nfserror.Remote, nerr.Code)
}
