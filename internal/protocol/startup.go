package protocol

import (
	"fmt"

	"github.com/pgwire/pgwire/internal/wire"
)

// ProtocolVersion3 is the only protocol version this package speaks:
// major 3, minor 0.
const ProtocolVersion3 int32 = 3 << 16

const (
	sslRequestCode    int32 = 80877103
	gssEncRequestCode int32 = 80877104
	cancelRequestCode int32 = 80877102
)

// StartupMessageReader is the zero-copy view over a StartupMessage
// frame: protocol version followed by `key\0value\0` pairs, terminated
// by an empty key.
type StartupMessageReader struct {
	buf []byte // payload, after the 4-byte length
}

// IsStartupMessage reports whether buf (a tagless frame payload,
// length prefix included) looks like a StartupMessage: its declared
// version is neither the SSL nor the GSS nor the cancel sentinel.
func IsStartupMessage(buf []byte) bool {
	if len(buf) < 8 {
		return false
	}
	v := wire.I32(buf[4:])
	return v != sslRequestCode && v != gssEncRequestCode && v != cancelRequestCode
}

// NewStartupMessageReader constructs a reader over a tagless frame
// (length prefix included, buf[4:8] is the version).
func NewStartupMessageReader(buf []byte) (*StartupMessageReader, error) {
	if len(buf) < 9 {
		return nil, fmt.Errorf("protocol: StartupMessage too short: %w", ErrShortFrame)
	}
	return &StartupMessageReader{buf: buf[8:]}, nil
}

// Version returns the wire protocol version (always ProtocolVersion3
// for messages IsStartupMessage accepted).
func (r *StartupMessageReader) Version() int32 {
	// Stored 4 bytes before buf; recompute from the original slice is
	// avoided by keeping buf pointed past it — version is constant
	// for every frame this type accepts.
	return ProtocolVersion3
}

// Parameters decodes the `key\0value\0...\0` parameter list into a
// map. Iterates the ZTArray-like structure by hand since each element
// is a pair of ZTStrings rather than one fixed shape.
func (r *StartupMessageReader) Parameters() (map[string]string, error) {
	params := make(map[string]string)
	buf := r.buf
	for len(buf) > 0 {
		if buf[0] == 0 {
			return params, nil
		}
		key, err := wire.ZTString(buf)
		if err != nil {
			return nil, fmt.Errorf("protocol: StartupMessage key: %w", err)
		}
		n, _ := wire.ZTStringLen(buf)
		buf = buf[n:]
		val, err := wire.ZTString(buf)
		if err != nil {
			return nil, fmt.Errorf("protocol: StartupMessage value: %w", err)
		}
		n, _ = wire.ZTStringLen(buf)
		buf = buf[n:]
		params[key] = val
	}
	return nil, fmt.Errorf("protocol: StartupMessage missing terminator: %w", ErrShortFrame)
}

// StartupMessageBuilder writes a StartupMessage frame: length, version
// 3.0, then parameters in the given order, then a NUL terminator.
// Parameter order is caller-controlled (a map would not preserve it),
// matching how the teacher's authenticatePG built this message field
// by field.
type StartupMessageBuilder struct {
	Params []KV
}

// KV is one key/value parameter pair, order-preserving.
type KV struct {
	Key, Value string
}

// Measure returns the total serialized size of the frame.
func (b StartupMessageBuilder) Measure() int {
	n := 4 + 4 // length + version
	for _, kv := range b.Params {
		n += len(kv.Key) + 1 + len(kv.Value) + 1
	}
	n++ // terminator
	return n
}

// Write appends the framed StartupMessage to dst.
func (b StartupMessageBuilder) Write(dst []byte) []byte {
	start := len(dst)
	dst = wire.PutI32(dst, 0) // placeholder length
	dst = wire.PutI32(dst, ProtocolVersion3)
	for _, kv := range b.Params {
		dst = wire.PutZTString(dst, kv.Key)
		dst = wire.PutZTString(dst, kv.Value)
	}
	dst = append(dst, 0)
	wire.PutLength(dst, start)
	return dst
}

// SSLRequestBuilder writes the fixed 8-byte SSLRequest frame.
type SSLRequestBuilder struct{}

func (SSLRequestBuilder) Measure() int { return 8 }

func (SSLRequestBuilder) Write(dst []byte) []byte {
	dst = wire.PutI32(dst, 8)
	return wire.PutI32(dst, sslRequestCode)
}

// IsSSLRequest reports whether the tagless frame at buf is an
// SSLRequest.
func IsSSLRequest(buf []byte) bool {
	return len(buf) >= 8 && wire.I32(buf) == 8 && wire.I32(buf[4:]) == sslRequestCode
}

// GSSEncRequestBuilder writes the fixed 8-byte GSSENCRequest frame.
type GSSEncRequestBuilder struct{}

func (GSSEncRequestBuilder) Measure() int { return 8 }

func (GSSEncRequestBuilder) Write(dst []byte) []byte {
	dst = wire.PutI32(dst, 8)
	return wire.PutI32(dst, gssEncRequestCode)
}

// IsGSSEncRequest reports whether the tagless frame at buf is a
// GSSENCRequest.
func IsGSSEncRequest(buf []byte) bool {
	return len(buf) >= 8 && wire.I32(buf) == 8 && wire.I32(buf[4:]) == gssEncRequestCode
}

// CancelRequestReader is the zero-copy view over a CancelRequest
// frame: the fixed cancel sentinel, then backend PID and secret key.
type CancelRequestReader struct {
	buf []byte // payload after the 8-byte header (length + code)
}

// IsCancelRequest reports whether the tagless frame at buf is a
// CancelRequest.
func IsCancelRequest(buf []byte) bool {
	return len(buf) >= 16 && wire.I32(buf) == 16 && wire.I32(buf[4:]) == cancelRequestCode
}

// NewCancelRequestReader constructs a reader over a 16-byte
// CancelRequest frame.
func NewCancelRequestReader(buf []byte) (*CancelRequestReader, error) {
	if len(buf) < 16 {
		return nil, fmt.Errorf("protocol: CancelRequest too short: %w", ErrShortFrame)
	}
	return &CancelRequestReader{buf: buf[8:16]}, nil
}

// BackendPID returns the target backend process ID.
func (r *CancelRequestReader) BackendPID() int32 { return wire.I32(r.buf) }

// SecretKey returns the cancellation secret key issued in
// BackendKeyData.
func (r *CancelRequestReader) SecretKey() int32 { return wire.I32(r.buf[4:]) }

// CancelRequestBuilder writes the fixed 16-byte CancelRequest frame.
type CancelRequestBuilder struct {
	BackendPID int32
	SecretKey  int32
}

func (CancelRequestBuilder) Measure() int { return 16 }

func (b CancelRequestBuilder) Write(dst []byte) []byte {
	dst = wire.PutI32(dst, 16)
	dst = wire.PutI32(dst, cancelRequestCode)
	dst = wire.PutI32(dst, b.BackendPID)
	return wire.PutI32(dst, b.SecretKey)
}

// PasswordMessageReader views a PasswordMessage/SASLInitialResponse/
// SASLResponse frame body (tag 'p' already stripped by the caller).
// All three share this wire shape at the PasswordMessage level; the
// SASL variants additionally structure the payload as
// mechanism\0 + Encoded(response) or just Encoded(response).
type PasswordMessageReader struct {
	buf []byte
}

// NewPasswordMessageReader constructs a reader over the payload of a
// 'p'-tagged frame (tag and length already stripped).
func NewPasswordMessageReader(payload []byte) *PasswordMessageReader {
	return &PasswordMessageReader{buf: payload}
}

// Password returns the raw (ZTString) password payload, as sent for
// AuthenticationCleartextPassword and AuthenticationMD5Password
// responses.
func (r *PasswordMessageReader) Password() (string, error) {
	return wire.ZTString(r.buf)
}

// PasswordMessageBuilder writes a PasswordMessage: tag 'p', length,
// then the password as a ZTString.
type PasswordMessageBuilder struct {
	Password string
}

func (b PasswordMessageBuilder) Measure() int {
	return 1 + 4 + len(b.Password) + 1
}

func (b PasswordMessageBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagPassword))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutZTString(dst, b.Password)
	wire.PutLength(dst, start)
	return dst
}

// SASLInitialResponseBuilder writes the client's first SASL message:
// tag 'p', mechanism name as a ZTString, then the response as an
// Encoded blob (NULL permitted only in principle; SCRAM always sends
// a non-null client-first-message).
type SASLInitialResponseBuilder struct {
	Mechanism string
	Response  []byte
}

func (b SASLInitialResponseBuilder) Measure() int {
	return 1 + 4 + len(b.Mechanism) + 1 + wire.MeasureEncoded(wire.Encoded{Bytes: b.Response})
}

func (b SASLInitialResponseBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagPassword))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutZTString(dst, b.Mechanism)
	dst = wire.PutEncoded(dst, wire.Encoded{Bytes: b.Response})
	wire.PutLength(dst, start)
	return dst
}

// SASLResponseBuilder writes a subsequent SASL message ('p'): just
// the raw response bytes, unlength-prefixed within the payload (the
// frame's own length prefix is the only delimiter).
type SASLResponseBuilder struct {
	Response []byte
}

func (b SASLResponseBuilder) Measure() int {
	return 1 + 4 + len(b.Response)
}

func (b SASLResponseBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagPassword))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = append(dst, b.Response...)
	wire.PutLength(dst, start)
	return dst
}

// QueryBuilder writes a simple-query message: tag 'Q', length, SQL as
// a ZTString.
type QueryBuilder struct {
	SQL string
}

func (b QueryBuilder) Measure() int {
	return 1 + 4 + len(b.SQL) + 1
}

func (b QueryBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagQuery))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutZTString(dst, b.SQL)
	wire.PutLength(dst, start)
	return dst
}

// QueryReader views a Query message payload (tag already stripped).
type QueryReader struct{ buf []byte }

func NewQueryReader(payload []byte) *QueryReader { return &QueryReader{buf: payload} }

func (r *QueryReader) SQL() (string, error) { return wire.ZTString(r.buf) }

// TerminateBuilder writes the fixed Terminate message: tag 'X',
// length 4, no payload.
type TerminateBuilder struct{}

func (TerminateBuilder) Measure() int { return 5 }

func (TerminateBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagTerminate))
	return wire.PutI32(dst, 4)
}
