package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/relaygw/internal/log"
	"github.com/mattjoyce/relaygw/internal/protocol"
)

const maxRemoteBody = 16 << 20

// Remote forwards calls to another bridge's POST /mcp endpoint.
type Remote struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewRemote returns a Caller that posts to url. Calls are never retried.
func NewRemote(url string, timeout time.Duration) *Remote {
	return &Remote{
		url:     url,
		client:  &http.Client{},
		timeout: timeout,
		logger:  log.WithComponent("remote"),
	}
}

type remoteRequest struct {
	ID     *protocol.ID    `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type remoteResponse struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func (r *Remote) Call(ctx context.Context, c Call) (json.RawMessage, error) {
	if c.Method == "" {
		return nil, ErrBadRequest
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	body := remoteRequest{Method: c.Method, Params: c.Params}
	if !c.ID.IsZero() {
		id := c.ID
		body.ID = &id
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("upstream unreachable", "url", r.url, "error", err)
		return nil, fmt.Errorf("%w: upstream unreachable", ErrNotReady)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, ErrNotReady
	}

	var decoded remoteResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode upstream response (status %d): %w", resp.StatusCode, err)
	}
	if bytes.Equal(decoded.Error, []byte("null")) {
		decoded.Error = nil
	}

	if resp.StatusCode == http.StatusOK && len(decoded.Error) == 0 {
		if len(decoded.Result) == 0 {
			return json.RawMessage("null"), nil
		}
		return decoded.Result, nil
	}

	rpcErr := parseRemoteError(decoded.Error)
	if resp.StatusCode == http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s", ErrBadRequest, rpcErr.Message)
	}
	return nil, rpcErr
}

// parseRemoteError accepts both {"error":"text"} and {"error":{"code":..,"message":..}}.
func parseRemoteError(raw json.RawMessage) *protocol.Error {
	if len(raw) == 0 {
		return &protocol.Error{Code: protocol.CodeInternalError, Message: "Internal error"}
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return &protocol.Error{Code: protocol.CodeInternalError, Message: text}
	}
	var obj protocol.Error
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		if obj.Code == 0 {
			obj.Code = protocol.CodeInternalError
		}
		return &obj
	}
	return &protocol.Error{Code: protocol.CodeInternalError, Message: "Internal error"}
}

// Notify drops the notification: POST /mcp always answers with a response,
// so there is nothing to deliver one-way.
func (r *Remote) Notify(_ context.Context, method string, _ json.RawMessage) error {
	r.logger.Debug("notification not relayed upstream", "method", method)
	return nil
}

// Ready always reports true; upstream availability is learned per call.
func (r *Remote) Ready() bool { return true }
