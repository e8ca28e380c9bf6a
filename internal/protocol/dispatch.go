package protocol

// Group distinguishes which side of the wire a tag is being
// interpreted for — the same byte value means different messages in
// each direction (e.g. 'D' is Describe from the frontend, DataRow
// from the backend).
type Group int

const (
	Frontend Group = iota
	Backend
)

// Kind names a dispatchable message variant. Startup-class frames
// (tagless) get synthetic kinds since they carry no tag byte to
// switch on.
type Kind int

const (
	KindUnknown Kind = iota

	// Tagless, startup-class.
	KindStartupMessage
	KindSSLRequest
	KindGSSEncRequest
	KindCancelRequest

	// Frontend, tagged.
	KindPasswordMessage // also covers SASLInitialResponse/SASLResponse — same tag 'p'
	KindQuery
	KindTerminate
	KindParse
	KindBind
	KindDescribe
	KindExecute
	KindClose
	KindSync
	KindFlush
	KindFunctionCall
	KindCopyData
	KindCopyDone
	KindCopyFail

	// Backend, tagged.
	KindAuthentication
	KindBackendKeyData
	KindBindComplete
	KindCloseComplete
	KindCommandComplete
	KindCopyInResponse
	KindCopyOutResponse
	KindCopyBothResponse
	KindDataRow
	KindEmptyQueryResponse
	KindErrorResponse
	KindFunctionCallResponse
	KindNegotiateProtocolVersion
	KindNoData
	KindNoticeResponse
	KindParameterDescription
	KindParameterStatus
	KindParseComplete
	KindPortalSuspended
	KindReadyForQuery
	KindRowDescription
)

// IdentifyStartup inspects a tagless frame (the only kind legal before
// any tagged message has been seen on a connection) and reports which
// startup-class variant it is. Because every startup-class message
// folds its version/code into the word right after the length, this
// is the dispatch predicate is() from spec.md §4.2 applied to the
// four-member startup group.
func IdentifyStartup(buf []byte) Kind {
	switch {
	case IsSSLRequest(buf):
		return KindSSLRequest
	case IsGSSEncRequest(buf):
		return KindGSSEncRequest
	case IsCancelRequest(buf):
		return KindCancelRequest
	case IsStartupMessage(buf):
		return KindStartupMessage
	default:
		return KindUnknown
	}
}

// Identify returns the Kind of a tagged frame within the given group.
// buf is the frame payload with the tag already stripped by the
// caller (the reassembler hands back tag and payload separately); tag
// is the constant-valued discriminator field every tagged message
// schema declares.
func Identify(group Group, tag Tag) Kind {
	if group == Frontend {
		switch tag {
		case TagPassword:
			return KindPasswordMessage
		case TagQuery:
			return KindQuery
		case TagTerminate:
			return KindTerminate
		case TagParse:
			return KindParse
		case TagBind:
			return KindBind
		case TagDescribe:
			return KindDescribe
		case TagExecute:
			return KindExecute
		case TagClose:
			return KindClose
		case TagSync:
			return KindSync
		case TagFlush:
			return KindFlush
		case TagFunctionCall:
			return KindFunctionCall
		case TagCopyData:
			return KindCopyData
		case TagCopyDone:
			return KindCopyDone
		case TagCopyFail:
			return KindCopyFail
		default:
			return KindUnknown
		}
	}
	switch tag {
	case TagAuthentication:
		return KindAuthentication
	case TagBackendKeyData:
		return KindBackendKeyData
	case TagBindComplete:
		return KindBindComplete
	case TagCloseComplete:
		return KindCloseComplete
	case TagCommandComplete:
		return KindCommandComplete
	case TagCopyInResponse:
		return KindCopyInResponse
	case TagCopyOutResponse:
		// NOTE: TagCopyOutResponse ('H') collides on the wire with
		// TagFlush ('H') but never in the same Group — Flush is
		// Frontend-only, CopyOutResponse Backend-only.
		return KindCopyOutResponse
	case TagCopyBothResponse:
		return KindCopyBothResponse
	case TagDataRow:
		return KindDataRow
	case TagEmptyQueryResponse:
		return KindEmptyQueryResponse
	case TagErrorResponse:
		return KindErrorResponse
	case TagFunctionCallResponse:
		return KindFunctionCallResponse
	case TagNegotiateProtoVersion:
		return KindNegotiateProtocolVersion
	case TagNoData:
		return KindNoData
	case TagNoticeResponse:
		return KindNoticeResponse
	case TagParameterDescription:
		return KindParameterDescription
	case TagParameterStatus:
		return KindParameterStatus
	case TagParseComplete:
		return KindParseComplete
	case TagPortalSuspended:
		return KindPortalSuspended
	case TagReadyForQuery:
		return KindReadyForQuery
	case TagRowDescription:
		return KindRowDescription
	default:
		return KindUnknown
	}
}
