package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relaygw/internal/protocol"
)

func TestRemoteCall(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantResult string
		wantErr    error
		wantCode   int
	}{
		{name: "result", status: 200, body: `{"result":{"tools":[]}}`, wantResult: `{"tools":[]}`},
		{name: "not ready", status: 503, body: `{"error":"Service not ready"}`, wantErr: ErrNotReady},
		{name: "bad request", status: 400, body: `{"error":"Method is required"}`, wantErr: ErrBadRequest},
		{name: "string error", status: 500, body: `{"error":"Request timeout"}`, wantCode: protocol.CodeInternalError},
		{name: "null error", status: 200, body: `{"result":1,"error":null}`, wantResult: `1`},
		{name: "object error", status: 500, body: `{"error":{"code":-32000,"message":"boom"}}`, wantCode: -32000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(b, &got)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			r := NewRemote(srv.URL+"/mcp", time.Second)
			res, err := r.Call(context.Background(), Call{
				ID:     numberID(t, 3),
				Method: "tools/list",
				Params: json.RawMessage(`{}`),
			})

			assert.Equal(t, "tools/list", got["method"])
			assert.EqualValues(t, 3, got["id"])

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantCode != 0:
				var rpcErr *protocol.Error
				require.ErrorAs(t, err, &rpcErr)
				assert.Equal(t, tt.wantCode, rpcErr.Code)
			default:
				require.NoError(t, err)
				assert.JSONEq(t, tt.wantResult, string(res))
			}
		})
	}
}

func TestRemoteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, 20*time.Millisecond)
	_, err := r.Call(context.Background(), Call{Method: "slow"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRemoteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := NewRemote(url, time.Second)
	_, err := r.Call(context.Background(), Call{Method: "tools/list"})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRemoteMissingMethod(t *testing.T) {
	r := NewRemote("http://127.0.0.1:1/mcp", time.Second)
	_, err := r.Call(context.Background(), Call{})
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.True(t, r.Ready())
	assert.NoError(t, r.Notify(context.Background(), "notifications/x", nil))
}
