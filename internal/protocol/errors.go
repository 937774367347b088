package protocol

// Code is a stable machine-readable error code.
type Code string

// Error codes.
const (
	CodeInvalidRequest      Code = "invalid_request"
	CodeProtocolMismatch    Code = "protocol_mismatch"
	CodeProtocolUnsupported Code = "protocol_unsupported"
	CodeUnknownAction       Code = "unknown_action"
	CodeInternalError       Code = "internal_error"
)

// Error is a failure reported by the daemon.
//
// errors.Is matches any *Error with the same Code, so callers can test
// against the sentinels below.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}

	return e.Message + " (" + string(e.Code) + ")"
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)

	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidRequest      = &Error{Code: CodeInvalidRequest}
	ErrProtocolMismatch    = &Error{Code: CodeProtocolMismatch}
	ErrProtocolUnsupported = &Error{Code: CodeProtocolUnsupported}
	ErrUnknownAction       = &Error{Code: CodeUnknownAction}
	ErrInternal            = &Error{Code: CodeInternalError}
)
