package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action names a daemon operation. The set is closed: ParseAction maps every
// name it does not know to ActionUnknown.
type Action string

// Known actions.
const (
	ActionPing      Action = "ping"
	ActionStatus    Action = "status"
	ActionIndexList Action = "index.list"
	ActionShutdown  Action = "shutdown"

	ActionUnknown Action = ""
)

// ParseAction returns the known action named s, or ActionUnknown.
func ParseAction(s string) Action {
	switch action := Action(s); action {
	case ActionPing, ActionStatus, ActionIndexList, ActionShutdown:
		return action
	default:
		return ActionUnknown
	}
}

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is one client request.
type Request struct {
	ProtocolVersion string          `json:"protocol_version"`
	RequestID       string          `json:"request_id"`
	Action          string          `json:"action"`
	Payload         json.RawMessage `json:"payload"`
}

// Response is one daemon reply. Result and Error are always encoded, as null
// when unused.
type Response struct {
	ProtocolVersion string          `json:"protocol_version"`
	RequestID       string          `json:"request_id"`
	Status          string          `json:"status"`
	Result          json.RawMessage `json:"result"`
	Error           *ErrorBody      `json:"error"`
}

// ErrorBody is the error member of a failed Response.
type ErrorBody struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// ErrMissingField marks a request without a required envelope member.
var ErrMissingField = errors.New("missing required field")

// NewRequest builds a request for action at the current protocol version.
// A nil payload is sent as an empty object.
func NewRequest(requestID string, action Action, payload any) (Request, error) {
	raw := json.RawMessage(`{}`)

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Request{}, fmt.Errorf("encoding payload: %w", err)
		}

		raw = data
	}

	return Request{
		ProtocolVersion: Version,
		RequestID:       requestID,
		Action:          string(action),
		Payload:         raw,
	}, nil
}

// Validate checks that the envelope members a daemon needs are present.
func (r Request) Validate() error {
	switch {
	case r.ProtocolVersion == "":
		return fmt.Errorf("%w: protocol_version", ErrMissingField)
	case r.RequestID == "":
		return fmt.Errorf("%w: request_id", ErrMissingField)
	case r.Action == "":
		return fmt.Errorf("%w: action", ErrMissingField)
	}

	return nil
}

// DecodeRequest parses one request line. On failure the returned Request
// still carries whatever protocol_version and request_id could be recovered,
// so the error reply can echo them.
func DecodeRequest(line []byte) (Request, error) {
	var req Request

	err := json.Unmarshal(line, &req)
	if err == nil {
		return req, nil
	}

	var loose map[string]any
	if json.Unmarshal(line, &loose) == nil {
		req = Request{}
		req.ProtocolVersion, _ = loose["protocol_version"].(string)
		req.RequestID, _ = loose["request_id"].(string)
	}

	return req, fmt.Errorf("decoding request: %w", err)
}

// OK builds a success reply to req carrying result.
func OK(req Request, result any) (Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("encoding result: %w", err)
	}

	return Response{
		ProtocolVersion: Version,
		RequestID:       req.RequestID,
		Status:          StatusOK,
		Result:          data,
	}, nil
}

// Fail builds an error reply to req. Nil details are sent as an empty object.
func Fail(req Request, code Code, message string, details map[string]any) Response {
	if details == nil {
		details = map[string]any{}
	}

	return Response{
		ProtocolVersion: Version,
		RequestID:       req.RequestID,
		Status:          StatusError,
		Error:           &ErrorBody{Code: code, Message: message, Details: details},
	}
}

// Err returns the response's error as an *Error, or nil for a success.
func (r Response) Err() error {
	if r.Status != StatusError {
		return nil
	}

	if r.Error == nil {
		return &Error{Code: CodeInternalError, Message: "error response without error body"}
	}

	return &Error{Code: r.Error.Code, Message: r.Error.Message, Details: r.Error.Details}
}
