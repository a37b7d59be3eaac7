package mount

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

func TestMntSuccess(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(tr)

	var reply *MntReply
	var gotErr error
	require.NoError(t, Mnt(s, "/srv/export", func(r *MntReply, err error) {
		reply, gotErr = r, err
	}))

	rootFH := bytes.Repeat([]byte{0x01}, 32)
	result := xdr.NewEncoder()
	result.WriteUint32(0) // MNT3_OK
	result.WriteOpaque(rootFH)
	result.WriteUint32Array([]uint32{rpc.AuthNone})
	tr.onRecv(acceptedReply(xidOf(tr.sent[0]), result.Bytes()))

	require.NoError(t, gotErr)
	require.NotNil(t, reply)
	assert.Equal(t, rootFH, reply.FileHandle)
}

func TestMntRemoteError(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(tr)

	var gotErr error
	require.NoError(t, Mnt(s, "/srv/export", func(r *MntReply, err error) {
		gotErr = err
	}))

	result := xdr.NewEncoder()
	result.WriteUint32(13) // MNT3ERR_ACCES
	tr.onRecv(acceptedReply(xidOf(tr.sent[0]), result.Bytes()))

	require.Error(t, gotErr)
	var nerr *nfserror.Error
	require.ErrorAs(t, gotErr, &nerr)
	assert.Equal(t, nfserror.Remote, nerr.Code)
	require.NotNil(t, nerr.Status)
	assert.Equal(t, uint32(13), *nerr.Status)
}

func TestUmntSuccess(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(tr)

	var gotErr error
	require.NoError(t, Umnt(s, "/srv/export", func(err error) { gotErr = err }))

	tr.onRecv(acceptedReply(xidOf(tr.sent[0]), nil))
	require.NoError(t, gotErr)
}
