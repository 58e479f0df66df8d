package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC version carried on every frame.
const Version = "2.0"

// Standard JSON-RPC error codes plus the bridge's server-defined range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603

	CodeNotReady  = -32001
	CodeChildDied = -32002
	CodeTimeout   = -32003
)

// ID is a JSON-RPC request identifier: a string or a number, kept as its
// compact JSON encoding so it can be echoed back verbatim.
type ID struct {
	raw string
}

// StringID builds a string identifier.
func StringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID{raw: string(b)}
}

// IsZero reports whether the identifier is absent or null.
func (id ID) IsZero() bool { return id.raw == "" }

// Key returns the map key used for correlation. "1" and 1 are distinct ids.
func (id ID) Key() string { return id.raw }

func (id ID) String() string {
	if id.raw == "" {
		return "null"
	}
	return id.raw
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.raw == "" {
		return []byte("null"), nil
	}
	return []byte(id.raw), nil
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		id.raw = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
	default:
		return fmt.Errorf("invalid id: must be a string or number, got %s", b)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	id.raw = buf.String()
	return nil
}

// Request is an outbound JSON-RPC request, or a notification when ID is nil.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object. It also reports child-side failures as a Go error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Kind tags the variant held by a Message.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Message is a decoded frame: a request, a notification, or a response.
// It is built once by Decode and passed by value afterwards.
type Message struct {
	Kind   Kind
	ID     ID
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *Error
}

// NewRequest builds a request carrying id, or a notification when id is zero.
func NewRequest(id ID, method string, params json.RawMessage) *Request {
	req := &Request{JSONRPC: Version, Method: method, Params: params}
	if !id.IsZero() {
		req.ID = &id
	}
	return req
}

// NewResult builds a successful response.
func NewResult(id ID, result json.RawMessage) *Response {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error response.
func NewError(id ID, code int, message string) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}
