package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotJSON marks a line that is not JSON at all, typically log output.
	ErrNotJSON = errors.New("line is not JSON")

	// ErrUnrecognized marks valid JSON that does not look like a JSON-RPC message.
	ErrUnrecognized = errors.New("unrecognized JSON-RPC shape")
)

// wireMessage is the superset of fields any frame may carry.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// Decode classifies a single line.
// Returns ErrNotJSON for non-JSON text and ErrUnrecognized for JSON that
// lacks a request or response shape.
func Decode(line []byte) (Message, error) {
	if !json.Valid(line) {
		return Message{}, ErrNotJSON
	}

	var w wireMessage
	if err := json.Unmarshal(line, &w); err != nil {
		// Valid JSON but not an object, or fields of the wrong type.
		return Message{}, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}

	var id ID
	hasID := len(w.ID) > 0
	if hasID {
		if err := id.UnmarshalJSON(w.ID); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrUnrecognized, err)
		}
	}

	if w.Method != nil && *w.Method != "" {
		msg := Message{Method: *w.Method, Params: w.Params, ID: id}
		if id.IsZero() {
			msg.Kind = KindNotification
		} else {
			msg.Kind = KindRequest
		}
		return msg, nil
	}

	hasResult := len(w.Result) > 0
	hasError := w.Error != nil
	if hasID && (hasResult || hasError) {
		msg := Message{Kind: KindResponse, ID: id}
		if hasError {
			msg.Error = w.Error
		} else {
			msg.Result = w.Result
		}
		return msg, nil
	}

	return Message{}, ErrUnrecognized
}

// MarshalLine serializes v as one compact JSON object followed by a newline.
func MarshalLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// EncodeResponse serializes a Response as a single frame and writes it to w.
func EncodeResponse(w io.Writer, resp *Response) error {
	if resp.JSONRPC == "" {
		resp.JSONRPC = Version
	}
	line, err := MarshalLine(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}
