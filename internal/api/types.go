package api

import (
	"encoding/json"

	"github.com/mattjoyce/relaygw/internal/protocol"
	"github.com/mattjoyce/relaygw/internal/supervisor"
)

// MCPRequest is the JSON body for POST /mcp.
type MCPRequest struct {
	ID     *protocol.ID    `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// MCPResponse is returned by POST /mcp on success.
type MCPResponse struct {
	Result json.RawMessage `json:"result"`
}

// RPCError is the error object inside MCPErrorResponse.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MCPErrorResponse is returned by POST /mcp when the call fails.
type MCPErrorResponse struct {
	Error RPCError `json:"error"`
}

// ErrorResponse is returned on routing errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Ready         bool              `json:"ready"`
	Timestamp     string            `json:"timestamp"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Child         *supervisor.Stats `json:"child,omitempty"`
}
