// Package xdr implements the subset of RFC 4506 External Data
// Representation needed to speak ONC RPC: big-endian integers, and
// 4-byte-aligned opaque/string/array encoding.
//
// Encoder appends to a growable buffer; Decoder extracts from a fixed
// byte slice and fails with ErrMalformed the moment a length prefix
// would run past what remains, rather than panicking or reading
// adjacent memory.
package xdr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is returned by every Decoder method when the wire data
// is truncated or a length prefix disagrees with the bytes remaining.
var ErrMalformed = errors.New("xdr: malformed data")

// Encoder builds a byte-exact XDR encoding into an internal buffer.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the accumulated encoding.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Len returns the number of bytes accumulated so far.
func (e *Encoder) Len() int {
	return e.buf.Len()
}

// WriteUint32 appends a big-endian uint32.
func (e *Encoder) WriteUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

// WriteUint64 appends a big-endian uint64.
func (e *Encoder) WriteUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// WriteInt32 appends a big-endian two's-complement int32.
func (e *Encoder) WriteInt32(v int32) {
	e.WriteUint32(uint32(v))
}

// WriteBool appends an XDR boolean: 0 for false, 1 for true.
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.WriteUint32(1)
	} else {
		e.WriteUint32(0)
	}
}

// WriteOpaque appends variable-length opaque data: a uint32 length,
// the bytes themselves, then zero padding to the next 4-byte boundary.
func (e *Encoder) WriteOpaque(data []byte) {
	e.WriteUint32(uint32(len(data)))
	e.buf.Write(data)
	e.writePadding(len(data))
}

// WriteString appends an XDR string using the same length-prefixed,
// zero-padded encoding as WriteOpaque.
func (e *Encoder) WriteString(s string) {
	e.WriteOpaque([]byte(s))
}

// WriteFixedOpaque appends data followed by padding to the next 4-byte
// boundary, with no length prefix. It is used for fixed-size opaque
// fields whose length is implied by the protocol rather than carried
// on the wire.
func (e *Encoder) WriteFixedOpaque(data []byte) {
	e.buf.Write(data)
	e.writePadding(len(data))
}

// Write appends raw, already-XDR-encoded bytes verbatim, with no
// length prefix or padding of its own. Used to splice one encoder's
// output (e.g. pre-encoded procedure arguments) into another.
func (e *Encoder) Write(p []byte) {
	e.buf.Write(p)
}

// WriteUint32Array appends a count-prefixed array of uint32s.
func (e *Encoder) WriteUint32Array(vals []uint32) {
	e.WriteUint32(uint32(len(vals)))
	for _, v := range vals {
		e.WriteUint32(v)
	}
}

func (e *Encoder) writePadding(dataLen int) {
	pad := (4 - (dataLen % 4)) % 4
	if pad == 0 {
		return
	}
	var zero [3]byte
	e.buf.Write(zero[:pad])
}

// Decoder extracts XDR-encoded values from a fixed byte slice,
// tracking a read cursor. Every method fails with ErrMalformed rather
// than reading past the end of the slice.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps buf for sequential XDR decoding starting at offset 0.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining returns the number of undecoded bytes left in the buffer.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// Pos returns the current read offset into the underlying buffer. A
// reply callback receives a Decoder positioned here, just past the
// RPC reply header, ready to decode procedure-specific results.
func (d *Decoder) Pos() int {
	return d.pos
}

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformed, n, d.Remaining())
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// ReadUint32 decodes a big-endian uint32.
func (d *Decoder) ReadUint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadUint64 decodes a big-endian uint64.
func (d *Decoder) ReadUint64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadInt32 decodes a big-endian two's-complement int32.
func (d *Decoder) ReadInt32() (int32, error) {
	v, err := d.ReadUint32()
	return int32(v), err
}

// ReadBool decodes an XDR boolean: any nonzero uint32 is true.
func (d *Decoder) ReadBool() (bool, error) {
	v, err := d.ReadUint32()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadOpaqueMax decodes variable-length opaque data, failing with
// ErrMalformed if the encoded length exceeds max. Padding bytes are
// consumed but not validated, per RFC 4506 (padding content is
// unspecified).
func (d *Decoder) ReadOpaqueMax(max int) ([]byte, error) {
	length, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	if max >= 0 && int(length) > max {
		return nil, fmt.Errorf("%w: opaque length %d exceeds maximum %d", ErrMalformed, length, max)
	}
	data, err := d.take(int(length))
	if err != nil {
		return nil, fmt.Errorf("%w: opaque data: %v", ErrMalformed, err)
	}
	// Copy out of the shared buffer; the caller may hold this slice
	// long after the next record overwrites the decode buffer.
	out := make([]byte, len(data))
	copy(out, data)

	pad := (4 - (length % 4)) % 4
	if pad > 0 {
		if _, err := d.take(int(pad)); err != nil {
			return nil, fmt.Errorf("%w: opaque padding: %v", ErrMalformed, err)
		}
	}
	return out, nil
}

// ReadString decodes an XDR string using the same encoding as opaque data.
func (d *Decoder) ReadString(max int) (string, error) {
	data, err := d.ReadOpaqueMax(max)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadUint32Array decodes a count-prefixed array of uint32s, failing
// with ErrMalformed if the declared count exceeds maxCount.
func (d *Decoder) ReadUint32Array(maxCount int) ([]uint32, error) {
	count, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	if maxCount >= 0 && int(count) > maxCount {
		return nil, fmt.Errorf("%w: array count %d exceeds maximum %d", ErrMalformed, count, maxCount)
	}
	out := make([]uint32, count)
	for i := range out {
		out[i], err = d.ReadUint32()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Skip advances the cursor by n bytes without interpreting them, used
// to discard fixed-size attribute blocks the client has no use for.
func (d *Decoder) Skip(n int) error {
	_, err := d.take(n)
	return err
}
