package rpc

import "encoding/binary"

// lastFragmentFlag is the high bit of the record-marking header (RFC
// 1057 §10): set on every fragment this client emits, since it never
// splits a call across fragments.
const lastFragmentFlag = 0x80000000

// MaxFragmentSize bounds a single reassembled record this client will
// accept from a server, guarding against a hostile or broken length
// field forcing an unbounded allocation.
const MaxFragmentSize = 1 << 20 // 1MB

// Frame prepends a record-marking header to payload and returns the
// complete on-wire record.
//
// The 4-byte header is always computed from the fully assembled
// payload and written into its own reserved prefix, never patched in
// place into payload bytes that were already sent. Patching bytes
// already sent would corrupt the length field RFC 1057 §10 requires.
func Frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], lastFragmentFlag|uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// FragmentHeader decodes a 4-byte record-marking header into whether
// it is the last fragment of a record and the fragment's length.
func FragmentHeader(b []byte) (last bool, length uint32) {
	h := binary.BigEndian.Uint32(b)
	return h&lastFragmentFlag != 0, h &^ lastFragmentFlag
}
