package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		checkFn func(t *testing.T, msg Message)
	}{
		{
			name:  "result response with numeric id",
			input: `{"jsonrpc":"2.0","id":7,"result":{"tools":[]}}`,
			checkFn: func(t *testing.T, msg Message) {
				if msg.Kind != KindResponse {
					t.Fatalf("want response, got %s", msg.Kind)
				}
				if msg.ID.Key() != "7" {
					t.Errorf("want id 7, got %s", msg.ID)
				}
				if string(msg.Result) != `{"tools":[]}` {
					t.Errorf("result not preserved: %s", msg.Result)
				}
			},
		},
		{
			name:  "error response with string id",
			input: `{"jsonrpc":"2.0","id":"abc","error":{"code":-32000,"message":"boom"}}`,
			checkFn: func(t *testing.T, msg Message) {
				if msg.Kind != KindResponse || msg.Error == nil {
					t.Fatalf("want error response, got %+v", msg)
				}
				if msg.ID.Key() != `"abc"` {
					t.Errorf("want quoted id, got %s", msg.ID.Key())
				}
				if msg.Error.Code != -32000 || msg.Error.Message != "boom" {
					t.Errorf("unexpected error: %+v", msg.Error)
				}
			},
		},
		{
			name:  "null result is still a response",
			input: `{"jsonrpc":"2.0","id":1,"result":null}`,
			checkFn: func(t *testing.T, msg Message) {
				if msg.Kind != KindResponse {
					t.Fatalf("want response, got %s", msg.Kind)
				}
				if string(msg.Result) != "null" {
					t.Errorf("want null result, got %q", msg.Result)
				}
			},
		},
		{
			name:  "request",
			input: `{"jsonrpc":"2.0","id":3,"method":"roots/list","params":{}}`,
			checkFn: func(t *testing.T, msg Message) {
				if msg.Kind != KindRequest || msg.Method != "roots/list" {
					t.Errorf("unexpected message: %+v", msg)
				}
			},
		},
		{
			name:  "notification",
			input: `{"jsonrpc":"2.0","method":"notifications/ready"}`,
			checkFn: func(t *testing.T, msg Message) {
				if msg.Kind != KindNotification {
					t.Errorf("want notification, got %s", msg.Kind)
				}
			},
		},
		{
			name:    "log text",
			input:   `Server connected and ready!`,
			wantErr: ErrNotJSON,
		},
		{
			name:    "json without rpc shape",
			input:   `{"level":"info","msg":"hello"}`,
			wantErr: ErrUnrecognized,
		},
		{
			name:    "json array",
			input:   `[1,2,3]`,
			wantErr: ErrUnrecognized,
		},
		{
			name:    "result without id",
			input:   `{"jsonrpc":"2.0","result":{}}`,
			wantErr: ErrUnrecognized,
		},
		{
			name:    "object id rejected",
			input:   `{"jsonrpc":"2.0","id":{"x":1},"result":{}}`,
			wantErr: ErrUnrecognized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() unexpected error: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, msg)
			}
		})
	}
}

func numberID(t *testing.T, raw string) ID {
	t.Helper()
	var id ID
	if err := id.UnmarshalJSON([]byte(raw)); err != nil {
		t.Fatalf("UnmarshalJSON(%s) error = %v", raw, err)
	}
	return id
}

func TestMarshalLineRequest(t *testing.T) {
	params := json.RawMessage("{\n  \"name\": \"query\"\n}")
	line, err := MarshalLine(NewRequest(numberID(t, "5"), "tools/call", params))
	if err != nil {
		t.Fatalf("MarshalLine() error = %v", err)
	}

	out := string(line)
	if strings.Count(out, "\n") != 1 || !strings.HasSuffix(out, "\n") {
		t.Fatalf("want exactly one trailing newline, got %q", out)
	}
	for _, want := range []string{`"jsonrpc":"2.0"`, `"id":5`, `"method":"tools/call"`, `"params":{"name":"query"}`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}

func TestMarshalLineNotification(t *testing.T) {
	line, err := MarshalLine(NewRequest(ID{}, "notifications/initialized", nil))
	if err != nil {
		t.Fatalf("MarshalLine() error = %v", err)
	}
	if strings.Contains(string(line), `"id"`) {
		t.Errorf("notification must not carry an id: %s", line)
	}
}

func TestEncodeResponse(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeResponse(&buf, NewError(StringID("caller-1"), CodeTimeout, "request timed out")); err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	want := `{"jsonrpc":"2.0","id":"caller-1","error":{"code":-32003,"message":"request timed out"}}` + "\n"
	if buf.String() != want {
		t.Errorf("got %s want %s", buf.String(), want)
	}

	buf.Reset()
	if err := EncodeResponse(&buf, NewResult(ID{}, nil)); err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	if buf.String() != `{"jsonrpc":"2.0","id":null,"result":null}`+"\n" {
		t.Errorf("unexpected encoding: %s", buf.String())
	}
}

func TestIDRoundTrip(t *testing.T) {
	tests := []struct {
		in      string
		wantKey string
		wantErr bool
	}{
		{in: `1`, wantKey: `1`},
		{in: `"1"`, wantKey: `"1"`},
		{in: `-12.5`, wantKey: `-12.5`},
		{in: `null`, wantKey: ``},
		{in: `true`, wantErr: true},
		{in: `[1]`, wantErr: true},
	}
	for _, tt := range tests {
		var id ID
		err := json.Unmarshal([]byte(tt.in), &id)
		if (err != nil) != tt.wantErr {
			t.Errorf("Unmarshal(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && id.Key() != tt.wantKey {
			t.Errorf("Unmarshal(%s) key = %q, want %q", tt.in, id.Key(), tt.wantKey)
		}
	}

	if StringID("1").Key() == numberID(t, "1").Key() {
		t.Error("string and number ids must not collide")
	}
}
