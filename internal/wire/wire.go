// Package wire implements the zero-copy primitives the PostgreSQL v3
// frontend/backend protocol builds its messages from: fixed integers,
// fixed-size byte arrays, zero-terminated strings, length-prefixed
// blobs, and the array forms built on top of them.
//
// Every primitive exposes four operations over a borrowed byte slice:
// SizeOf (how many bytes it occupies at the head of buf), an extractor
// (zero-copy inflation into a typed view), Measure (serialized length
// of a would-be value) and a writer (append bytes in network order).
// None of them allocate except where the shape of Go forces a small
// header (iterator state for ZTArray/Array).
package wire

import (
	"encoding/binary"
	"fmt"
)

// ErrShortBuffer is wrapped into every error that surfaces a field
// extending past the end of its containing buffer.
var ErrShortBuffer = fmt.Errorf("wire: buffer too short")

// U8 reads a single byte at buf[0].
func U8(buf []byte) uint8 {
	return buf[0]
}

// PutU8 appends a single byte.
func PutU8(dst []byte, v uint8) []byte {
	return append(dst, v)
}

// I16 reads a big-endian int16 at buf[0:2].
func I16(buf []byte) int16 {
	return int16(binary.BigEndian.Uint16(buf))
}

// PutI16 appends a big-endian int16.
func PutI16(dst []byte, v int16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return append(dst, b[:]...)
}

// I32 reads a big-endian int32 at buf[0:4].
func I32(buf []byte) int32 {
	return int32(binary.BigEndian.Uint32(buf))
}

// PutI32 appends a big-endian int32.
func PutI32(dst []byte, v int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return append(dst, b[:]...)
}

// Bytes is a fixed-size byte array field; N is carried by the caller
// (Go has no const-generic array slicing over variable N at this
// level), so Bytes just returns the borrowed sub-slice.
func Bytes(buf []byte, n int) []byte {
	return buf[:n]
}

// PutBytes appends a fixed-size byte array verbatim. Callers are
// responsible for ensuring len(v) == the field's declared size.
func PutBytes(dst []byte, v []byte) []byte {
	return append(dst, v...)
}

// ZTStringLen returns the size in bytes of a zero-terminated string
// starting at buf[0], terminator included.
func ZTStringLen(buf []byte) (int, error) {
	for i, b := range buf {
		if b == 0 {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("wire: unterminated ZTString: %w", ErrShortBuffer)
}

// ZTString extracts the logical value of a zero-terminated string
// (terminator excluded) starting at buf[0]. The returned slice is a
// borrowed view; it is only valid as long as buf is.
func ZTString(buf []byte) (string, error) {
	n, err := ZTStringLen(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n-1]), nil
}

// PutZTString appends s followed by a NUL terminator. s must not
// contain an embedded NUL byte.
func PutZTString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

// EncodedNullLen is the sentinel i32 length value (-1) that marks an
// Encoded field as SQL NULL, as distinct from a zero-length value.
const EncodedNullLen int32 = -1

// Encoded is the decoded view of an `Encoded` field: a length-prefixed
// byte blob where length -1 is a distinguished NULL state.
type Encoded struct {
	// Null is true when the field's length prefix was -1. Bytes is
	// nil in that case and MUST NOT be treated the same as an empty,
	// non-null value.
	Null  bool
	Bytes []byte
}

// EncodedLen returns the total size in bytes (length prefix plus
// payload, or just the length prefix for NULL) of an Encoded field
// starting at buf[0].
func EncodedLen(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("wire: Encoded length prefix: %w", ErrShortBuffer)
	}
	l := I32(buf)
	if l == EncodedNullLen {
		return 4, nil
	}
	if l < 0 {
		return 0, fmt.Errorf("wire: Encoded negative length %d", l)
	}
	if len(buf) < 4+int(l) {
		return 0, fmt.Errorf("wire: Encoded payload: %w", ErrShortBuffer)
	}
	return 4 + int(l), nil
}

// ExtractEncoded inflates the Encoded field starting at buf[0].
func ExtractEncoded(buf []byte) (Encoded, error) {
	n, err := EncodedLen(buf)
	if err != nil {
		return Encoded{}, err
	}
	if n == 4 {
		return Encoded{Null: true}, nil
	}
	return Encoded{Bytes: buf[4:n]}, nil
}

// MeasureEncoded returns the serialized size of v.
func MeasureEncoded(v Encoded) int {
	if v.Null {
		return 4
	}
	return 4 + len(v.Bytes)
}

// PutEncoded appends v's length-prefixed encoding. A NULL value writes
// length -1 and no payload; a zero-length non-null value writes
// length 0 and no payload, which is a distinct wire form from NULL.
func PutEncoded(dst []byte, v Encoded) []byte {
	if v.Null {
		return PutI32(dst, EncodedNullLen)
	}
	dst = PutI32(dst, int32(len(v.Bytes)))
	return append(dst, v.Bytes...)
}

// Rest is the "remainder of the containing frame" field: it consumes
// every byte left in buf.
func Rest(buf []byte) []byte {
	return buf
}

// LengthMarker width, in bytes, of the self-describing Length field
// every tagged and startup-class message carries.
const LengthMarker = 4

// PutLength back-patches the 4-byte length field at dst[at:at+4] with
// the number of bytes written to dst since at, itself included.
func PutLength(dst []byte, at int) {
	n := len(dst) - at
	binary.BigEndian.PutUint32(dst[at:at+4], uint32(n))
}
