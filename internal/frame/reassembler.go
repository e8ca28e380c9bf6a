// Package frame accumulates bytes arriving from a transport and
// yields complete PostgreSQL v3 protocol frames, per spec.md §4.5.
package frame

import (
	"encoding/binary"
	"fmt"
)

// DefaultMaxFrameSize is the hard cap on a single frame's declared
// length before the reassembler reports ErrFrameTooLarge.
const DefaultMaxFrameSize = 1 << 30 // 1 GiB

// ErrFrameTooLarge is returned by Feed/Next when a frame's declared
// length exceeds MaxFrameSize. The connection using this reassembler
// MUST transition to Error on receiving it (spec.md §4.5).
var ErrFrameTooLarge = fmt.Errorf("frame: declared length exceeds maximum")

// Frame is one complete message extracted from the stream: Tag is 0
// for tagless startup-class frames (Tagged == false), Payload is
// everything after the header (length prefix, and tag if present).
type Frame struct {
	Tagged  bool
	Tag     byte
	Payload []byte
}

// Reassembler accumulates chunks from the transport and splits
// complete frames off the front of its buffer as they become
// available. A single Reassembler instance is not safe for concurrent
// use — it is owned by the one cooperative I/O task driving a
// connection (spec.md §5).
type Reassembler struct {
	buf          []byte
	off          int // start of unconsumed data within buf
	MaxFrameSize int

	// expectTagless, when true, tells the reassembler the NEXT frame
	// it parses has no leading tag byte (used only for the very first
	// frame from a client, which is startup-class). It auto-resets to
	// false after yielding one frame.
	expectTagless bool
}

// New constructs a Reassembler. expectTaglessFirst should be true when
// this reassembler will parse a client's first frame (StartupMessage/
// SSLRequest/GSSENCRequest/CancelRequest, which carry no tag), and
// false when parsing a server's or an already-past-startup client's
// stream.
func New(expectTaglessFirst bool) *Reassembler {
	return &Reassembler{
		MaxFrameSize:  DefaultMaxFrameSize,
		expectTagless: expectTaglessFirst,
	}
}

// Feed appends chunk to the internal buffer. It does not itself
// extract frames; call Next in a loop after each Feed.
func (r *Reassembler) Feed(chunk []byte) {
	r.buf = append(r.buf, chunk...)
}

// Next attempts to split one complete frame off the front of the
// accumulated buffer. ok is false when more bytes are needed; err is
// non-nil (ErrFrameTooLarge) only when the declared length exceeds
// MaxFrameSize, which is fatal to the connection.
func (r *Reassembler) Next() (f Frame, ok bool, err error) {
	// Compact before computing this call's payload, never after: a
	// frame returned by the previous call aliases r.buf, and the
	// caller is required to be done with it before calling Next()
	// again. Compacting after slicing out a payload (even this call's
	// own) would overwrite the bytes it points to before the caller
	// ever sees them.
	r.compact()

	unread := r.buf[r.off:]
	tagged := !r.expectTagless

	hdr := 4
	if tagged {
		hdr = 5
	}
	if len(unread) < hdr {
		return Frame{}, false, nil
	}

	var tag byte
	var lengthOff int
	if tagged {
		tag = unread[0]
		lengthOff = 1
	}
	length := int32(binary.BigEndian.Uint32(unread[lengthOff : lengthOff+4]))
	if length < 4 {
		return Frame{}, false, fmt.Errorf("frame: declared length %d < 4", length)
	}
	max := r.MaxFrameSize
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	if int(length) > max {
		return Frame{}, false, ErrFrameTooLarge
	}

	total := int(length)
	if tagged {
		total++
	}
	if len(unread) < total {
		return Frame{}, false, nil
	}

	payload := unread[lengthOff+4 : total]
	r.off += total
	r.expectTagless = false

	return Frame{Tagged: tagged, Tag: tag, Payload: payload}, true, nil
}

// compact drops already-consumed bytes once they grow large relative
// to what remains, so the buffer doesn't grow unboundedly across a
// long-lived connection's lifetime while still reusing capacity for
// the common case of one frame at a time.
func (r *Reassembler) compact() {
	if r.off == 0 {
		return
	}
	if r.off < len(r.buf)/2 && len(r.buf) < 64*1024 {
		return
	}
	n := copy(r.buf, r.buf[r.off:])
	r.buf = r.buf[:n]
	r.off = 0
}

// Pending returns the number of unconsumed bytes currently buffered.
func (r *Reassembler) Pending() int {
	return len(r.buf) - r.off
}
