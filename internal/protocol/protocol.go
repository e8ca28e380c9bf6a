// Package protocol declares every PostgreSQL v3 frontend/backend
// message as an ordered, typed field list and synthesizes three views
// over each: a zero-copy Reader, a size-only Measurer, and a Builder
// that writes bytes and back-patches its own length prefix.
//
// Frames are either tagged (one ASCII byte, then a big-endian int32
// length including itself but not the tag, then the payload) or
// tagless/"startup-class" (StartupMessage, SSLRequest, GSSENCRequest,
// CancelRequest: just the length and payload, no tag byte).
package protocol

import (
	"fmt"

	"github.com/pgwire/pgwire/internal/wire"
)

// Tag is the one-byte message-type discriminator carried by every
// message except the startup-class ones.
type Tag byte

// Frontend message tags.
const (
	TagPassword     Tag = 'p' // PasswordMessage / SASLInitialResponse / SASLResponse / GSSResponse
	TagQuery        Tag = 'Q'
	TagTerminate    Tag = 'X'
	TagParse        Tag = 'P'
	TagBind         Tag = 'B'
	TagDescribe     Tag = 'D'
	TagExecute      Tag = 'E'
	TagClose        Tag = 'C'
	TagSync         Tag = 'S'
	TagFlush        Tag = 'H'
	TagFunctionCall Tag = 'F'
	TagCopyData     Tag = 'd'
	TagCopyDone     Tag = 'c'
	TagCopyFail     Tag = 'f'
)

// Backend message tags.
const (
	TagAuthentication        Tag = 'R'
	TagBackendKeyData        Tag = 'K'
	TagBindComplete          Tag = '2'
	TagCloseComplete         Tag = '3'
	TagCommandComplete       Tag = 'C'
	TagCopyInResponse        Tag = 'G'
	TagCopyOutResponse       Tag = 'H'
	TagCopyBothResponse      Tag = 'W'
	TagDataRow               Tag = 'D'
	TagEmptyQueryResponse    Tag = 'I'
	TagErrorResponse         Tag = 'E'
	TagFunctionCallResponse  Tag = 'V'
	TagNegotiateProtoVersion Tag = 'v'
	TagNoData                Tag = 'n'
	TagNoticeResponse        Tag = 'N'
	TagParameterDescription  Tag = 't'
	TagParameterStatus       Tag = 'S'
	TagParseComplete         Tag = '1'
	TagPortalSuspended       Tag = 's'
	TagReadyForQuery         Tag = 'Z'
	TagRowDescription        Tag = 'T'
)

// ErrShortFrame is wrapped into errors raised when a frame's declared
// length extends past the end of the buffer it was found in, or a
// sub-field (array element, ZTString) extends past the frame. These
// are ProtocolFrame errors in the taxonomy of spec.md §7.
var ErrShortFrame = fmt.Errorf("protocol: short frame")

// FrameHeader reports the tag (0 for tagless startup-class frames)
// and the total on-wire size (header included) of the frame starting
// at buf[0]. tagged controls whether a 1-byte tag precedes the
// length, matching the caller's knowledge of which frame class this
// is (the reassembler tracks this per connection phase).
func FrameHeader(buf []byte, tagged bool) (tag Tag, total int, err error) {
	hdr := 4
	if tagged {
		hdr = 5
	}
	if len(buf) < hdr {
		return 0, 0, fmt.Errorf("protocol: frame header: %w", ErrShortFrame)
	}
	var length int32
	if tagged {
		tag = Tag(buf[0])
		length = wire.I32(buf[1:])
	} else {
		length = wire.I32(buf)
	}
	if length < 4 {
		return 0, 0, fmt.Errorf("protocol: frame length %d < 4: %w", length, ErrShortFrame)
	}
	total = int(length)
	if tagged {
		total++
	}
	if len(buf) < total {
		return 0, 0, fmt.Errorf("protocol: frame body: %w", ErrShortFrame)
	}
	return tag, total, nil
}
