package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/mattjoyce/relaygw/internal/protocol"
)

func TestEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		status  int
		outcome string
	}{
		{"bad request", ErrBadRequest, -32600, http.StatusBadRequest, "bad_request"},
		{"duplicate", ErrDuplicateID, -32600, http.StatusBadRequest, "duplicate_id"},
		{"not ready", ErrNotReady, -32001, http.StatusServiceUnavailable, "not_ready"},
		{"wrapped not ready", fmt.Errorf("%w: upstream unreachable", ErrNotReady), -32001, http.StatusServiceUnavailable, "not_ready"},
		{"child died", ErrChildDied, -32002, http.StatusInternalServerError, "child_died"},
		{"timeout", ErrTimeout, -32003, http.StatusInternalServerError, "timeout"},
		{"deadline", context.DeadlineExceeded, -32003, http.StatusInternalServerError, "timeout"},
		{"child error", &protocol.Error{Code: -32000, Message: "boom"}, -32000, http.StatusInternalServerError, "child_error"},
		{"other", errors.New("disk on fire"), -32603, http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg, status := Envelope(tt.err)
			if code != tt.code || status != tt.status {
				t.Fatalf("Envelope(%v) = %d/%d, want %d/%d", tt.err, code, status, tt.code, tt.status)
			}
			if msg == "" {
				t.Fatal("empty message")
			}
			if got := Outcome(tt.err); got != tt.outcome {
				t.Fatalf("Outcome = %q, want %q", got, tt.outcome)
			}
		})
	}

	if _, msg, _ := Envelope(errors.New("secret id 42")); msg != "Internal error" {
		t.Fatalf("internal error message leaked: %q", msg)
	}
	if Outcome(nil) != "ok" {
		t.Fatal("nil outcome")
	}
}
