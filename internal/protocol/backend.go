package protocol

import (
	"fmt"

	"github.com/pgwire/pgwire/internal/wire"
)

// Authentication sub-message type codes (the first int32 of every
// 'R'-tagged frame's payload).
const (
	AuthOK                int32 = 0
	AuthKerberosV5        int32 = 2
	AuthCleartextPassword int32 = 3
	AuthMD5Password       int32 = 5
	AuthSCMCredential     int32 = 6
	AuthGSS               int32 = 7
	AuthGSSContinue       int32 = 8
	AuthSSPI              int32 = 9
	AuthSASL              int32 = 10
	AuthSASLContinue      int32 = 11
	AuthSASLFinal         int32 = 12
)

// AuthenticationReader views the payload of an 'R'-tagged frame (tag
// and length already stripped). Call Kind first, then the matching
// accessor.
type AuthenticationReader struct{ buf []byte }

func NewAuthenticationReader(payload []byte) (*AuthenticationReader, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("protocol: Authentication payload too short: %w", ErrShortFrame)
	}
	return &AuthenticationReader{buf: payload}, nil
}

// Kind returns the authentication sub-message type.
func (r *AuthenticationReader) Kind() int32 { return wire.I32(r.buf) }

// MD5Salt returns the 4-byte salt of an AuthenticationMD5Password
// message. Only valid when Kind() == AuthMD5Password.
func (r *AuthenticationReader) MD5Salt() ([]byte, error) {
	if len(r.buf) < 8 {
		return nil, fmt.Errorf("protocol: AuthenticationMD5Password salt: %w", ErrShortFrame)
	}
	return r.buf[4:8], nil
}

// SASLMechanisms returns the server-offered mechanism list of an
// AuthenticationSASL message: a ZTArray of ZTStrings. Only valid when
// Kind() == AuthSASL.
func (r *AuthenticationReader) SASLMechanisms() ([]string, error) {
	it := wire.NewZTArrayIter(r.buf[4:], wire.ZTStringLen)
	var mechs []string
	for {
		elem, ok, err := it.Next()
		if err != nil {
			return nil, fmt.Errorf("protocol: AuthenticationSASL mechanism: %w", err)
		}
		if !ok {
			return mechs, nil
		}
		mechs = append(mechs, string(elem[:len(elem)-1]))
	}
}

// SASLData returns the challenge/verifier bytes of an
// AuthenticationSASLContinue or AuthenticationSASLFinal message: the
// rest of the frame after the 4-byte sub-type.
func (r *AuthenticationReader) SASLData() []byte {
	return wire.Rest(r.buf[4:])
}

// AuthenticationOKBuilder writes the fixed AuthenticationOk message.
type AuthenticationOKBuilder struct{}

func (AuthenticationOKBuilder) Measure() int { return 1 + 4 + 4 }

func (AuthenticationOKBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagAuthentication))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutI32(dst, AuthOK)
	wire.PutLength(dst, start)
	return dst
}

// AuthenticationCleartextPasswordBuilder writes the fixed
// AuthenticationCleartextPassword message.
type AuthenticationCleartextPasswordBuilder struct{}

func (AuthenticationCleartextPasswordBuilder) Measure() int { return 1 + 4 + 4 }

func (AuthenticationCleartextPasswordBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagAuthentication))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutI32(dst, AuthCleartextPassword)
	wire.PutLength(dst, start)
	return dst
}

// AuthenticationMD5PasswordBuilder writes an AuthenticationMD5Password
// message carrying the 4-byte server salt.
type AuthenticationMD5PasswordBuilder struct {
	Salt [4]byte
}

func (AuthenticationMD5PasswordBuilder) Measure() int { return 1 + 4 + 4 + 4 }

func (b AuthenticationMD5PasswordBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagAuthentication))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutI32(dst, AuthMD5Password)
	dst = wire.PutBytes(dst, b.Salt[:])
	wire.PutLength(dst, start)
	return dst
}

// AuthenticationSASLBuilder writes an AuthenticationSASL message
// offering Mechanisms (a ZTArray of ZTStrings).
type AuthenticationSASLBuilder struct {
	Mechanisms []string
}

func (b AuthenticationSASLBuilder) Measure() int {
	n := 1 + 4 + 4
	for _, m := range b.Mechanisms {
		n += len(m) + 1
	}
	return n + 1 // ZTArray sentinel
}

func (b AuthenticationSASLBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagAuthentication))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutI32(dst, AuthSASL)
	for _, m := range b.Mechanisms {
		dst = wire.PutZTString(dst, m)
	}
	dst = append(dst, 0)
	wire.PutLength(dst, start)
	return dst
}

// AuthenticationSASLContinueBuilder writes an AuthenticationSASLContinue
// message carrying the server-first-message as Data.
type AuthenticationSASLContinueBuilder struct {
	Data []byte
}

func (b AuthenticationSASLContinueBuilder) Measure() int { return 1 + 4 + 4 + len(b.Data) }

func (b AuthenticationSASLContinueBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagAuthentication))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutI32(dst, AuthSASLContinue)
	dst = append(dst, b.Data...)
	wire.PutLength(dst, start)
	return dst
}

// AuthenticationSASLFinalBuilder writes an AuthenticationSASLFinal
// message carrying the server-final-message as Data.
type AuthenticationSASLFinalBuilder struct {
	Data []byte
}

func (b AuthenticationSASLFinalBuilder) Measure() int { return 1 + 4 + 4 + len(b.Data) }

func (b AuthenticationSASLFinalBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagAuthentication))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutI32(dst, AuthSASLFinal)
	dst = append(dst, b.Data...)
	wire.PutLength(dst, start)
	return dst
}

// ParameterStatusReader views a ParameterStatus ('S') payload.
type ParameterStatusReader struct{ buf []byte }

func NewParameterStatusReader(payload []byte) *ParameterStatusReader {
	return &ParameterStatusReader{buf: payload}
}

func (r *ParameterStatusReader) Name() (string, error) { return wire.ZTString(r.buf) }

func (r *ParameterStatusReader) Value() (string, error) {
	n, err := wire.ZTStringLen(r.buf)
	if err != nil {
		return "", err
	}
	return wire.ZTString(r.buf[n:])
}

// ParameterStatusBuilder writes a ParameterStatus message.
type ParameterStatusBuilder struct{ Name, Value string }

func (b ParameterStatusBuilder) Measure() int {
	return 1 + 4 + len(b.Name) + 1 + len(b.Value) + 1
}

func (b ParameterStatusBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagParameterStatus))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutZTString(dst, b.Name)
	dst = wire.PutZTString(dst, b.Value)
	wire.PutLength(dst, start)
	return dst
}

// BackendKeyDataReader views a BackendKeyData ('K') payload.
type BackendKeyDataReader struct{ buf []byte }

func NewBackendKeyDataReader(payload []byte) (*BackendKeyDataReader, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("protocol: BackendKeyData too short: %w", ErrShortFrame)
	}
	return &BackendKeyDataReader{buf: payload}, nil
}

func (r *BackendKeyDataReader) ProcessID() int32 { return wire.I32(r.buf) }
func (r *BackendKeyDataReader) SecretKey() int32 { return wire.I32(r.buf[4:]) }

// BackendKeyDataBuilder writes a BackendKeyData message.
type BackendKeyDataBuilder struct{ ProcessID, SecretKey int32 }

func (BackendKeyDataBuilder) Measure() int { return 1 + 4 + 4 + 4 }

func (b BackendKeyDataBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagBackendKeyData))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutI32(dst, b.ProcessID)
	dst = wire.PutI32(dst, b.SecretKey)
	wire.PutLength(dst, start)
	return dst
}

// ReadyForQueryReader views a ReadyForQuery ('Z') payload.
type ReadyForQueryReader struct{ buf []byte }

func NewReadyForQueryReader(payload []byte) (*ReadyForQueryReader, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("protocol: ReadyForQuery too short: %w", ErrShortFrame)
	}
	return &ReadyForQueryReader{buf: payload}, nil
}

// Status is one of 'I' (idle), 'T' (in transaction), 'E' (failed
// transaction).
func (r *ReadyForQueryReader) Status() byte { return r.buf[0] }

// ReadyForQueryBuilder writes a ReadyForQuery message.
type ReadyForQueryBuilder struct{ Status byte }

func (ReadyForQueryBuilder) Measure() int { return 1 + 4 + 1 }

func (b ReadyForQueryBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagReadyForQuery))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutU8(dst, b.Status)
	wire.PutLength(dst, start)
	return dst
}

// FieldDescription is one column description within a RowDescription
// message.
type FieldDescription struct {
	Name         string
	TableOID     int32
	ColumnAttr   int16
	DataTypeOID  int32
	DataTypeSize int16
	TypeModifier int32
	FormatCode   int16
}

func fieldDescriptionSize(buf []byte) (int, error) {
	n, err := wire.ZTStringLen(buf)
	if err != nil {
		return 0, err
	}
	n += 4 + 2 + 4 + 2 + 4 + 2
	if len(buf) < n {
		return 0, fmt.Errorf("protocol: field description: %w", ErrShortFrame)
	}
	return n, nil
}

func extractFieldDescription(buf []byte) (FieldDescription, error) {
	name, err := wire.ZTString(buf)
	if err != nil {
		return FieldDescription{}, err
	}
	n, _ := wire.ZTStringLen(buf)
	buf = buf[n:]
	return FieldDescription{
		Name:         name,
		TableOID:     wire.I32(buf),
		ColumnAttr:   wire.I16(buf[4:]),
		DataTypeOID:  wire.I32(buf[6:]),
		DataTypeSize: wire.I16(buf[10:]),
		TypeModifier: wire.I32(buf[12:]),
		FormatCode:   wire.I16(buf[16:]),
	}, nil
}

func putFieldDescription(dst []byte, f FieldDescription) []byte {
	dst = wire.PutZTString(dst, f.Name)
	dst = wire.PutI32(dst, f.TableOID)
	dst = wire.PutI16(dst, f.ColumnAttr)
	dst = wire.PutI32(dst, f.DataTypeOID)
	dst = wire.PutI16(dst, f.DataTypeSize)
	dst = wire.PutI32(dst, f.TypeModifier)
	dst = wire.PutI16(dst, f.FormatCode)
	return dst
}

// RowDescriptionReader views a RowDescription ('T') payload.
type RowDescriptionReader struct{ buf []byte }

func NewRowDescriptionReader(payload []byte) (*RowDescriptionReader, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("protocol: RowDescription too short: %w", ErrShortFrame)
	}
	return &RowDescriptionReader{buf: payload}, nil
}

// NumFields returns the declared field count.
func (r *RowDescriptionReader) NumFields() int { return int(wire.I16(r.buf)) }

// Fields decodes every field description in order.
func (r *RowDescriptionReader) Fields() ([]FieldDescription, error) {
	n := r.NumFields()
	out := make([]FieldDescription, 0, n)
	it := wire.NewArrayIter(r.buf[2:], n, fieldDescriptionSize)
	for {
		elem, ok, err := it.Next()
		if err != nil {
			return nil, fmt.Errorf("protocol: RowDescription field: %w", err)
		}
		if !ok {
			break
		}
		fd, err := extractFieldDescription(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
	}
	return out, nil
}

// RowDescriptionBuilder writes a RowDescription message.
type RowDescriptionBuilder struct{ Fields []FieldDescription }

func (b RowDescriptionBuilder) Measure() int {
	n := 1 + 4 + 2
	for _, f := range b.Fields {
		n += len(f.Name) + 1 + 4 + 2 + 4 + 2 + 4 + 2
	}
	return n
}

func (b RowDescriptionBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagRowDescription))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutI16(dst, int16(len(b.Fields)))
	for _, f := range b.Fields {
		dst = putFieldDescription(dst, f)
	}
	wire.PutLength(dst, start)
	return dst
}

// DataRowReader views a DataRow ('D') payload: an Array<i16,Encoded>
// of column values, NULL distinguished from empty per Encoded.
type DataRowReader struct{ buf []byte }

func NewDataRowReader(payload []byte) (*DataRowReader, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("protocol: DataRow too short: %w", ErrShortFrame)
	}
	return &DataRowReader{buf: payload}, nil
}

func (r *DataRowReader) NumColumns() int { return int(wire.I16(r.buf)) }

// Columns decodes every column value in order. A returned Encoded
// with Null == true is the SQL NULL value, distinct from a present
// zero-length value.
func (r *DataRowReader) Columns() ([]wire.Encoded, error) {
	n := r.NumColumns()
	out := make([]wire.Encoded, 0, n)
	buf := r.buf[2:]
	for i := 0; i < n; i++ {
		sz, err := wire.EncodedLen(buf)
		if err != nil {
			return nil, fmt.Errorf("protocol: DataRow column %d: %w", i, err)
		}
		v, err := wire.ExtractEncoded(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		buf = buf[sz:]
	}
	return out, nil
}

// DataRowBuilder writes a DataRow message.
type DataRowBuilder struct{ Columns []wire.Encoded }

func (b DataRowBuilder) Measure() int {
	n := 1 + 4 + 2
	for _, c := range b.Columns {
		n += wire.MeasureEncoded(c)
	}
	return n
}

func (b DataRowBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagDataRow))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutI16(dst, int16(len(b.Columns)))
	for _, c := range b.Columns {
		dst = wire.PutEncoded(dst, c)
	}
	wire.PutLength(dst, start)
	return dst
}

// CommandCompleteReader views a CommandComplete ('C') payload.
type CommandCompleteReader struct{ buf []byte }

func NewCommandCompleteReader(payload []byte) *CommandCompleteReader {
	return &CommandCompleteReader{buf: payload}
}

func (r *CommandCompleteReader) Tag() (string, error) { return wire.ZTString(r.buf) }

// CommandCompleteBuilder writes a CommandComplete message.
type CommandCompleteBuilder struct{ Tag string }

func (b CommandCompleteBuilder) Measure() int { return 1 + 4 + len(b.Tag) + 1 }

func (b CommandCompleteBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagCommandComplete))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutZTString(dst, b.Tag)
	wire.PutLength(dst, start)
	return dst
}

// EmptyQueryResponseBuilder writes the fixed EmptyQueryResponse
// message.
type EmptyQueryResponseBuilder struct{}

func (EmptyQueryResponseBuilder) Measure() int { return 1 + 4 }

func (EmptyQueryResponseBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagEmptyQueryResponse))
	return wire.PutI32(dst, 4)
}

// NegotiateProtocolVersionReader views a NegotiateProtocolVersion
// ('v') payload: the highest minor version the server supports,
// followed by the list of unrecognized protocol options the client
// sent.
type NegotiateProtocolVersionReader struct{ buf []byte }

func NewNegotiateProtocolVersionReader(payload []byte) (*NegotiateProtocolVersionReader, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("protocol: NegotiateProtocolVersion too short: %w", ErrShortFrame)
	}
	return &NegotiateProtocolVersionReader{buf: payload}, nil
}

func (r *NegotiateProtocolVersionReader) MinorVersion() int32 { return wire.I32(r.buf) }

func (r *NegotiateProtocolVersionReader) UnrecognizedOptions() ([]string, error) {
	n := int(wire.I32(r.buf[4:]))
	it := wire.NewArrayIter(r.buf[8:], n, wire.ZTStringLen)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		elem, ok, err := it.Next()
		if err != nil {
			return nil, fmt.Errorf("protocol: NegotiateProtocolVersion option %d: %w", i, err)
		}
		if !ok {
			return nil, fmt.Errorf("protocol: NegotiateProtocolVersion option %d: %w", i, ErrShortFrame)
		}
		out = append(out, string(elem[:len(elem)-1]))
	}
	return out, nil
}
