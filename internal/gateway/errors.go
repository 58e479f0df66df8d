package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/mattjoyce/relaygw/internal/correlate"
	"github.com/mattjoyce/relaygw/internal/protocol"
	"github.com/mattjoyce/relaygw/internal/supervisor"
)

var (
	// ErrBadRequest means the inbound call itself is malformed.
	ErrBadRequest = errors.New("invalid request: method is required")

	ErrNotReady    = supervisor.ErrNotReady
	ErrChildDied   = supervisor.ErrChildDied
	ErrTimeout     = correlate.ErrTimeout
	ErrDuplicateID = correlate.ErrDuplicateID
)

// Envelope maps err to the JSON-RPC error code, message and HTTP status
// returned to the caller. Messages never include request ids or params.
func Envelope(err error) (code int, message string, status int) {
	var rpcErr *protocol.Error
	switch {
	case errors.Is(err, ErrBadRequest):
		return protocol.CodeInvalidRequest, "Method is required", http.StatusBadRequest
	case errors.Is(err, ErrDuplicateID):
		return protocol.CodeInvalidRequest, "Duplicate request id", http.StatusBadRequest
	case errors.Is(err, ErrNotReady):
		return protocol.CodeNotReady, "Service not ready", http.StatusServiceUnavailable
	case errors.Is(err, ErrChildDied):
		return protocol.CodeChildDied, "Child process exited", http.StatusInternalServerError
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return protocol.CodeTimeout, "Request timeout", http.StatusInternalServerError
	case errors.As(err, &rpcErr):
		return rpcErr.Code, rpcErr.Message, http.StatusInternalServerError
	default:
		return protocol.CodeInternalError, "Internal error", http.StatusInternalServerError
	}
}

// Outcome names err for metrics and events.
func Outcome(err error) string {
	var rpcErr *protocol.Error
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrChildDied):
		return "child_died"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &rpcErr):
		return "child_error"
	default:
		return "internal"
	}
}
