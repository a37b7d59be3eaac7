package portmap

import (
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

func acceptedReply(t *testing.T, xid uint32, result []byte) []byte {
	t.Helper()
	e := xdr.NewEncoder()
	e.WriteUint32(xid)
	e.WriteUint32(1) // REPLY
	e.WriteUint32(0) // MSG_ACCEPTED
	e.WriteUint32(0) // verifier flavor
	e.WriteUint32(0) // verifier length
	e.WriteUint32(0) // accept_state
	e.Write(result)
	return e.Bytes()
}

func xidOf(frame []byte) uint32 {
	d := xdr.NewDecoder(frame[4:])
	xid, _ := d.ReadUint32()
	return xid
}

func TestGetPortSuccess(t *testing.T) {
	tr := &fakeTransport{}
	s := rpc.NewSession(tr, Program, Version, rpc.NoneCredential{}, rpc.NoneCredential{})

	var gotPort uint32
	var gotErr error
	require.NoError(t, GetPort(s, 100005, 3, ProtoTCP, func(port uint32, err error) {
		gotPort, gotErr = port, err
	}))

	result := xdr.NewEncoder()
	result.WriteUint32(635)
	tr.onRecv(acceptedReply(t, xidOf(tr.sent[0]), result.Bytes()))

	require.NoError(t, gotErr)
	assert.Equal(t, uint32(635), gotPort)
}

func TestGetPortNotFound(t *testing.T) {
	tr := &fakeTransport{}
	s := rpc.NewSession(tr, Program, Version, rpc.NoneCredential{}, rpc.NoneCredential{})

	var gotErr error
	require.NoError(t, GetPort(s, 100005, 3, ProtoTCP, func(port uint32, err error) {
		gotErr = err
	}))

	result := xdr.NewEncoder()
	result.WriteUint32(0)
	tr.onRecv(acceptedReply(t, xidOf(tr.sent[0]), result.Bytes()))

	require.Error(t, gotErr)
	var nerr *nfserror.Error
	require.ErrorAs(t, gotErr, &nerr)
	assert.Equal(t, nfserror.NotFound, nerr.Code)
}
