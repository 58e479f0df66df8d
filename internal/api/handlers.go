package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/relaygw/internal/gateway"
	"github.com/mattjoyce/relaygw/internal/protocol"
)

const maxBodyBytes = 16 << 20

// handleMCP handles POST /mcp: one JSON-RPC call forwarded to the child.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeRPCError(w, http.StatusBadRequest, protocol.CodeParseError, "Failed to read body")
		return
	}

	var req MCPRequest
	if err := json.Unmarshal(body, &req); err != nil {
		gateway.Record(s.events, "http", "", start, gateway.ErrBadRequest)
		s.writeRPCError(w, http.StatusBadRequest, protocol.CodeParseError, "Invalid JSON body")
		return
	}

	call := gateway.Call{Method: req.Method, Params: req.Params}
	if req.ID != nil {
		call.ID = *req.ID
	}

	result, err := s.caller.Call(r.Context(), call)
	gateway.Record(s.events, "http", req.Method, start, err)
	if err != nil {
		code, message, status := gateway.Envelope(err)
		s.logger.Warn("mcp call failed",
			"method", req.Method,
			"outcome", gateway.Outcome(err),
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
		s.writeRPCError(w, status, code, message)
		return
	}

	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	respondJSON(w, http.StatusOK, MCPResponse{Result: result})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Ready:         s.caller.Ready(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.child != nil {
		st := s.child.Stats()
		resp.Child = &st
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func (s *Server) writeRPCError(w http.ResponseWriter, statusCode, code int, message string) {
	respondJSON(w, statusCode, MCPErrorResponse{Error: RPCError{Code: code, Message: message}})
}
