// Extended-query subprotocol and COPY message definitions. These are
// schema declarations only (readers/builders) — spec.md §6 requires
// every v3 message to have one; the client state machine in
// internal/pgconn drives only the simple query loop (spec.md §4.6),
// so nothing here is reachable from Conn.Query. A future extended
// protocol (Parse/Bind/Execute pipelines) would build on these views
// without changing them.
package protocol

import (
	"fmt"

	"github.com/pgwire/pgwire/internal/wire"
)

// ParseBuilder writes a Parse message: destination statement name,
// query text, and a list of parameter type OIDs (0 means "infer").
type ParseBuilder struct {
	Statement  string
	Query      string
	ParamTypes []int32
}

func (b ParseBuilder) Measure() int {
	return 1 + 4 + len(b.Statement) + 1 + len(b.Query) + 1 + 2 + 4*len(b.ParamTypes)
}

func (b ParseBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagParse))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutZTString(dst, b.Statement)
	dst = wire.PutZTString(dst, b.Query)
	dst = wire.PutI16(dst, int16(len(b.ParamTypes)))
	for _, t := range b.ParamTypes {
		dst = wire.PutI32(dst, t)
	}
	wire.PutLength(dst, start)
	return dst
}

// ParseReader views a Parse message payload.
type ParseReader struct{ buf []byte }

func NewParseReader(payload []byte) *ParseReader { return &ParseReader{buf: payload} }

func (r *ParseReader) Statement() (string, error) { return wire.ZTString(r.buf) }

func (r *ParseReader) Query() (string, error) {
	n, err := wire.ZTStringLen(r.buf)
	if err != nil {
		return "", err
	}
	return wire.ZTString(r.buf[n:])
}

// BindBuilder writes a Bind message binding a portal to a prepared
// statement with the given parameter format codes, values (Encoded,
// NULL-aware) and result-column format codes.
type BindBuilder struct {
	Portal        string
	Statement     string
	ParamFormats  []int16
	Params        []wire.Encoded
	ResultFormats []int16
}

func (b BindBuilder) Measure() int {
	n := 1 + 4 + len(b.Portal) + 1 + len(b.Statement) + 1
	n += 2 + 2*len(b.ParamFormats)
	n += 2
	for _, p := range b.Params {
		n += wire.MeasureEncoded(p)
	}
	n += 2 + 2*len(b.ResultFormats)
	return n
}

func (b BindBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagBind))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutZTString(dst, b.Portal)
	dst = wire.PutZTString(dst, b.Statement)
	dst = wire.PutI16(dst, int16(len(b.ParamFormats)))
	for _, f := range b.ParamFormats {
		dst = wire.PutI16(dst, f)
	}
	dst = wire.PutI16(dst, int16(len(b.Params)))
	for _, p := range b.Params {
		dst = wire.PutEncoded(dst, p)
	}
	dst = wire.PutI16(dst, int16(len(b.ResultFormats)))
	for _, f := range b.ResultFormats {
		dst = wire.PutI16(dst, f)
	}
	wire.PutLength(dst, start)
	return dst
}

// DescribeKind selects whether a Describe/Close message targets a
// prepared statement or a portal.
type DescribeKind byte

const (
	DescribeStatement DescribeKind = 'S'
	DescribePortal    DescribeKind = 'P'
)

// DescribeBuilder writes a Describe message.
type DescribeBuilder struct {
	Kind DescribeKind
	Name string
}

func (b DescribeBuilder) Measure() int { return 1 + 4 + 1 + len(b.Name) + 1 }

func (b DescribeBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagDescribe))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutU8(dst, byte(b.Kind))
	dst = wire.PutZTString(dst, b.Name)
	wire.PutLength(dst, start)
	return dst
}

// CloseBuilder writes a Close message.
type CloseBuilder struct {
	Kind DescribeKind
	Name string
}

func (b CloseBuilder) Measure() int { return 1 + 4 + 1 + len(b.Name) + 1 }

func (b CloseBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagClose))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutU8(dst, byte(b.Kind))
	dst = wire.PutZTString(dst, b.Name)
	wire.PutLength(dst, start)
	return dst
}

// ExecuteBuilder writes an Execute message. MaxRows == 0 means "no
// limit".
type ExecuteBuilder struct {
	Portal  string
	MaxRows int32
}

func (b ExecuteBuilder) Measure() int { return 1 + 4 + len(b.Portal) + 1 + 4 }

func (b ExecuteBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagExecute))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutZTString(dst, b.Portal)
	dst = wire.PutI32(dst, b.MaxRows)
	wire.PutLength(dst, start)
	return dst
}

// fixedBuilder is shared by the zero-payload extended-protocol
// messages (Sync, Flush, and their backend completions).
type fixedBuilder struct{ tag Tag }

func (f fixedBuilder) Measure() int { return 5 }

func (f fixedBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(f.tag))
	return wire.PutI32(dst, 4)
}

type SyncBuilder struct{ fixedBuilder }
type FlushBuilder struct{ fixedBuilder }
type ParseCompleteBuilder struct{ fixedBuilder }
type BindCompleteBuilder struct{ fixedBuilder }
type CloseCompleteBuilder struct{ fixedBuilder }
type NoDataBuilder struct{ fixedBuilder }
type PortalSuspendedBuilder struct{ fixedBuilder }

func NewSyncBuilder() SyncBuilder   { return SyncBuilder{fixedBuilder{TagSync}} }
func NewFlushBuilder() FlushBuilder { return FlushBuilder{fixedBuilder{TagFlush}} }
func NewParseCompleteBuilder() ParseCompleteBuilder {
	return ParseCompleteBuilder{fixedBuilder{TagParseComplete}}
}
func NewBindCompleteBuilder() BindCompleteBuilder {
	return BindCompleteBuilder{fixedBuilder{TagBindComplete}}
}
func NewCloseCompleteBuilder() CloseCompleteBuilder {
	return CloseCompleteBuilder{fixedBuilder{TagCloseComplete}}
}
func NewNoDataBuilder() NoDataBuilder { return NoDataBuilder{fixedBuilder{TagNoData}} }
func NewPortalSuspendedBuilder() PortalSuspendedBuilder {
	return PortalSuspendedBuilder{fixedBuilder{TagPortalSuspended}}
}

// ParameterDescriptionReader views a ParameterDescription ('t')
// payload: the inferred parameter type OIDs for a prepared statement.
type ParameterDescriptionReader struct{ buf []byte }

func NewParameterDescriptionReader(payload []byte) (*ParameterDescriptionReader, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("protocol: ParameterDescription too short: %w", ErrShortFrame)
	}
	return &ParameterDescriptionReader{buf: payload}, nil
}

func (r *ParameterDescriptionReader) Types() []int32 {
	n := int(wire.I16(r.buf))
	out := make([]int32, n)
	buf := r.buf[2:]
	for i := 0; i < n; i++ {
		out[i] = wire.I32(buf)
		buf = buf[4:]
	}
	return out
}

// ParameterDescriptionBuilder writes a ParameterDescription message.
type ParameterDescriptionBuilder struct{ Types []int32 }

func (b ParameterDescriptionBuilder) Measure() int { return 1 + 4 + 2 + 4*len(b.Types) }

func (b ParameterDescriptionBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagParameterDescription))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutI16(dst, int16(len(b.Types)))
	for _, t := range b.Types {
		dst = wire.PutI32(dst, t)
	}
	wire.PutLength(dst, start)
	return dst
}

// FunctionCallBuilder writes a (legacy) FunctionCall message.
type FunctionCallBuilder struct {
	FunctionOID   int32
	ArgFormats    []int16
	Args          []wire.Encoded
	ResultFormat  int16
}

func (b FunctionCallBuilder) Measure() int {
	n := 1 + 4 + 4 + 2 + 2*len(b.ArgFormats) + 2
	for _, a := range b.Args {
		n += wire.MeasureEncoded(a)
	}
	n += 2
	return n
}

func (b FunctionCallBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagFunctionCall))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutI32(dst, b.FunctionOID)
	dst = wire.PutI16(dst, int16(len(b.ArgFormats)))
	for _, f := range b.ArgFormats {
		dst = wire.PutI16(dst, f)
	}
	dst = wire.PutI16(dst, int16(len(b.Args)))
	for _, a := range b.Args {
		dst = wire.PutEncoded(dst, a)
	}
	dst = wire.PutI16(dst, b.ResultFormat)
	wire.PutLength(dst, start)
	return dst
}

// FunctionCallResponseReader views a FunctionCallResponse ('V')
// payload: a single Encoded result value.
type FunctionCallResponseReader struct{ buf []byte }

func NewFunctionCallResponseReader(payload []byte) *FunctionCallResponseReader {
	return &FunctionCallResponseReader{buf: payload}
}

func (r *FunctionCallResponseReader) Result() (wire.Encoded, error) {
	return wire.ExtractEncoded(r.buf)
}

// FunctionCallResponseBuilder writes a FunctionCallResponse message.
type FunctionCallResponseBuilder struct{ Result wire.Encoded }

func (b FunctionCallResponseBuilder) Measure() int {
	return 1 + 4 + wire.MeasureEncoded(b.Result)
}

func (b FunctionCallResponseBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagFunctionCallResponse))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutEncoded(dst, b.Result)
	wire.PutLength(dst, start)
	return dst
}

// CopyFormat describes a CopyInResponse/CopyOutResponse/
// CopyBothResponse payload: overall format (0 textual, 1 binary) and
// one format code per column.
type CopyFormat struct {
	Overall int8
	Columns []int16
}

func decodeCopyFormat(buf []byte) (CopyFormat, error) {
	if len(buf) < 3 {
		return CopyFormat{}, fmt.Errorf("protocol: copy format too short: %w", ErrShortFrame)
	}
	n := int(wire.I16(buf[1:]))
	cols := make([]int16, n)
	b := buf[3:]
	for i := 0; i < n; i++ {
		cols[i] = wire.I16(b)
		b = b[2:]
	}
	return CopyFormat{Overall: int8(buf[0]), Columns: cols}, nil
}

func encodeCopyFormat(dst []byte, f CopyFormat) []byte {
	dst = append(dst, byte(f.Overall))
	dst = wire.PutI16(dst, int16(len(f.Columns)))
	for _, c := range f.Columns {
		dst = wire.PutI16(dst, c)
	}
	return dst
}

func measureCopyFormat(f CopyFormat) int { return 1 + 2 + 2*len(f.Columns) }

type CopyInResponseReader struct{ buf []byte }

func NewCopyInResponseReader(payload []byte) *CopyInResponseReader {
	return &CopyInResponseReader{buf: payload}
}
func (r *CopyInResponseReader) Format() (CopyFormat, error) { return decodeCopyFormat(r.buf) }

type CopyInResponseBuilder struct{ Format CopyFormat }

func (b CopyInResponseBuilder) Measure() int { return 1 + 4 + measureCopyFormat(b.Format) }
func (b CopyInResponseBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagCopyInResponse))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = encodeCopyFormat(dst, b.Format)
	wire.PutLength(dst, start)
	return dst
}

type CopyOutResponseReader struct{ buf []byte }

func NewCopyOutResponseReader(payload []byte) *CopyOutResponseReader {
	return &CopyOutResponseReader{buf: payload}
}
func (r *CopyOutResponseReader) Format() (CopyFormat, error) { return decodeCopyFormat(r.buf) }

type CopyOutResponseBuilder struct{ Format CopyFormat }

func (b CopyOutResponseBuilder) Measure() int { return 1 + 4 + measureCopyFormat(b.Format) }
func (b CopyOutResponseBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagCopyOutResponse))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = encodeCopyFormat(dst, b.Format)
	wire.PutLength(dst, start)
	return dst
}

type CopyBothResponseReader struct{ buf []byte }

func NewCopyBothResponseReader(payload []byte) *CopyBothResponseReader {
	return &CopyBothResponseReader{buf: payload}
}
func (r *CopyBothResponseReader) Format() (CopyFormat, error) { return decodeCopyFormat(r.buf) }

type CopyBothResponseBuilder struct{ Format CopyFormat }

func (b CopyBothResponseBuilder) Measure() int { return 1 + 4 + measureCopyFormat(b.Format) }
func (b CopyBothResponseBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagCopyBothResponse))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = encodeCopyFormat(dst, b.Format)
	wire.PutLength(dst, start)
	return dst
}

// CopyDataBuilder/Reader carry a raw chunk of COPY stream data
// (frontend or backend direction, same wire shape).
type CopyDataBuilder struct{ Data []byte }

func (b CopyDataBuilder) Measure() int { return 1 + 4 + len(b.Data) }
func (b CopyDataBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagCopyData))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = append(dst, b.Data...)
	wire.PutLength(dst, start)
	return dst
}

type CopyDataReader struct{ buf []byte }

func NewCopyDataReader(payload []byte) *CopyDataReader { return &CopyDataReader{buf: payload} }
func (r *CopyDataReader) Data() []byte                 { return wire.Rest(r.buf) }

// CopyDoneBuilder writes the fixed CopyDone message.
type CopyDoneBuilder struct{}

func (CopyDoneBuilder) Measure() int { return 5 }
func (CopyDoneBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagCopyDone))
	return wire.PutI32(dst, 4)
}

// CopyFailBuilder writes a CopyFail message with a client-supplied
// error message explaining why the COPY was aborted.
type CopyFailBuilder struct{ Message string }

func (b CopyFailBuilder) Measure() int { return 1 + 4 + len(b.Message) + 1 }
func (b CopyFailBuilder) Write(dst []byte) []byte {
	dst = append(dst, byte(TagCopyFail))
	start := len(dst)
	dst = wire.PutI32(dst, 0)
	dst = wire.PutZTString(dst, b.Message)
	wire.PutLength(dst, start)
	return dst
}
