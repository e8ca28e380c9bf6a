package pgconn

import (
	"errors"
	"fmt"

	"github.com/pgwire/pgwire/internal/protocol"
)

// Error taxonomy from spec.md §7. Use errors.Is against these
// sentinels; ServerError additionally carries the full field set for
// ServerError-kind failures.
var (
	ErrTransport    = errors.New("pgconn: transport error")
	ErrProtocolFrame = errors.New("pgconn: malformed protocol frame")
	ErrAuthProtocol = errors.New("pgconn: SCRAM/auth protocol violation")
	ErrAuthReject   = errors.New("pgconn: authentication rejected")
	ErrInvalidState = errors.New("pgconn: invalid state for this call")
	ErrTimeout      = errors.New("pgconn: connection deadline exceeded")
)

// ServerError wraps the full field set of a backend ErrorResponse
// (spec.md §7's "surfaced with its full field set").
type ServerError struct {
	Fields protocol.ErrorFields
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("pgconn: server error [%s] %s", e.Fields.SQLSTATE, e.Fields.Message)
}

// Fatal reports whether the error's severity means the connection
// itself is no longer usable (spec.md §7: "Non-fatal to the
// connection unless severity is FATAL/PANIC").
func (e *ServerError) Fatal() bool {
	sev := e.Fields.SeverityV
	if sev == "" {
		sev = e.Fields.Severity
	}
	return sev == "FATAL" || sev == "PANIC"
}

// IsAuthReject reports whether fields carries SQLSTATE class 28
// (invalid_authorization_specification), the AuthReject kind.
func isAuthReject(f protocol.ErrorFields) bool {
	return f.SQLSTATEClass() == "28"
}

func wrapServerError(f protocol.ErrorFields) error {
	se := &ServerError{Fields: f}
	if isAuthReject(f) {
		return fmt.Errorf("%w: %w", ErrAuthReject, se)
	}
	return se
}
