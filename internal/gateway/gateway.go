// Package gateway turns inbound calls into correlated child requests. Both
// the HTTP and stdio adapters talk to a Caller; the Caller is either a
// Multiplexer over the local child or a Remote over another bridge.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/mattjoyce/relaygw/internal/protocol"
)

// Call is one inbound request. A zero ID asks the Caller to mint one.
type Call struct {
	ID     protocol.ID
	Method string
	Params json.RawMessage
}

// Caller forwards calls and notifications to whatever serves them.
//
//go:generate mockgen -destination=mocks/mock_caller.go -package=mocks github.com/mattjoyce/relaygw/internal/gateway Caller
type Caller interface {
	// Call sends c and blocks for exactly one outcome: the raw result, a
	// *protocol.Error reported by the far end, or one of this package's errors.
	Call(ctx context.Context, c Call) (json.RawMessage, error)

	// Notify sends a notification. No response is expected.
	Notify(ctx context.Context, method string, params json.RawMessage) error

	// Ready reports whether calls are currently accepted.
	Ready() bool
}
