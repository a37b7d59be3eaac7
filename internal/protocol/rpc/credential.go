package rpc

import "github.com/marmos91/nfsboot/internal/protocol/xdr"

// Auth flavor ids, RFC 5531 §8.2.
const (
	AuthNone = 0
	AuthSys  = 1
)

// MaxMachineName is the wire-imposed limit on an AUTH_SYS machine name
// (RFC 5531 §8.2: the machine name string is bounded to 255 bytes).
const MaxMachineName = 255

// MaxAuxGIDs is the wire limit on an AUTH_SYS auxiliary group list.
const MaxAuxGIDs = 16

// Credential is a tagged AUTH_SYS/AUTH_NONE variant: either an empty
// AUTH_NONE body or a populated AUTH_SYS body. Both cases carry a
// flavor id and can encode their own body onto an xdr.Encoder; the
// encoder computes the body length itself by measuring before/after,
// so Credential never computes it independently (and can't disagree).
type Credential interface {
	Flavor() uint32
	encodeBody(e *xdr.Encoder)
}

// NoneCredential is the empty AUTH_NONE credential, used as this
// client's verifier on every call.
type NoneCredential struct{}

func (NoneCredential) Flavor() uint32           { return AuthNone }
func (NoneCredential) encodeBody(*xdr.Encoder) {}

// SysCredential is the AUTH_SYS credential (RFC 5531 §8.2): a single
// credential constructed at driver-open time with uid=0, gid=0, no
// auxiliary gids, stamp=0, and an externally supplied machine name.
type SysCredential struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	AuxGIDs     []uint32
}

func (SysCredential) Flavor() uint32 { return AuthSys }

func (c SysCredential) encodeBody(e *xdr.Encoder) {
	e.WriteUint32(c.Stamp)
	e.WriteString(c.MachineName)
	e.WriteUint32(c.UID)
	e.WriteUint32(c.GID)
	e.WriteUint32Array(c.AuxGIDs)
}

// encodeCredential appends a full credential (flavor, length, body) to
// e, matching the call header's credential/verifier layout (RFC 5531 §9).
func encodeCredential(e *xdr.Encoder, c Credential) {
	e.WriteUint32(c.Flavor())

	body := xdr.NewEncoder()
	c.encodeBody(body)

	e.WriteUint32(uint32(body.Len()))
	e.WriteFixedOpaque(body.Bytes())
}
