package watch

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relaygw/internal/events"
	"github.com/mattjoyce/relaygw/internal/supervisor"
)

func event(t *testing.T, id int64, typ string, payload any) events.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.Event{ID: id, Type: typ, At: time.Now(), Data: data}
}

func TestChildStateApplyEvent(t *testing.T) {
	var c ChildState

	c.applyEvent(event(t, 1, events.TypeChildState, events.ChildState{State: "ready", PID: 42}))
	assert.Equal(t, "ready", c.State)
	assert.Equal(t, 42, c.PID)
	assert.False(t, c.Since.IsZero())

	c.applyEvent(event(t, 2, events.TypeChildExit, events.ChildExit{PID: 42, Error: "exit status 3", Failed: 2}))
	c.applyEvent(event(t, 3, events.TypeChildState, events.ChildState{State: "restarting", Restarts: 0}))
	assert.Equal(t, "restarting", c.State)
	assert.Equal(t, 0, c.PID)
	require.Len(t, c.Exits, 1)
	assert.Equal(t, 2, c.Exits[0].Failed)

	for i := 0; i < 10; i++ {
		c.applyEvent(event(t, int64(10+i), events.TypeChildExit, events.ChildExit{PID: i}))
	}
	assert.Len(t, c.Exits, maxExits)
	assert.Equal(t, 9, c.Exits[0].PID, "newest exit first")
}

func TestUpdateRequestStats(t *testing.T) {
	stats := map[string]*MethodStats{}

	updateRequestStats(stats, event(t, 1, events.TypeRequestDone, events.RequestDone{Gateway: "http", Method: "echo", Outcome: "ok", DurationMS: 12}))
	updateRequestStats(stats, event(t, 2, events.TypeRequestDone, events.RequestDone{Gateway: "http", Method: "echo", Outcome: "timeout", DurationMS: 900}))
	updateRequestStats(stats, event(t, 3, events.TypeRequestDone, events.RequestDone{Gateway: "stdio", Outcome: "bad_request"}))
	updateRequestStats(stats, event(t, 4, events.TypeChildState, events.ChildState{State: "ready"}))

	require.Len(t, stats, 2)
	echo := stats[methodKey("http", "echo")]
	require.NotNil(t, echo)
	assert.Equal(t, 2, echo.Count)
	assert.Equal(t, 1, echo.Failures)
	assert.Equal(t, "timeout", echo.LastOutcome)
	assert.Equal(t, 900*time.Millisecond, echo.LastLatency)

	assert.Contains(t, stats, methodKey("stdio", "(none)"))
	assert.Equal(t, methodKey("stdio", "(none)"), sortedMethodKeys(stats)[0])
}

func TestExtractEventDesc(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
		want string
	}{
		{"state with pid", event(t, 1, events.TypeChildState, events.ChildState{State: "ready", PID: 7}), "ready pid=7"},
		{"state without pid", event(t, 2, events.TypeChildState, events.ChildState{State: "starting"}), "starting"},
		{"exit", event(t, 3, events.TypeChildExit, events.ChildExit{PID: 7, Error: "killed", Failed: 1}), "pid=7 failed=1 killed"},
		{"request", event(t, 4, events.TypeRequestDone, events.RequestDone{Gateway: "http", Method: "tools/list", Outcome: "ok", DurationMS: 3}), "[http] tools/list ok 3ms"},
		{"output", event(t, 5, events.TypeChildOutput, events.ChildOutput{Stream: "stderr", Line: "hello"}), "stderr: hello"},
		{"unknown", events.Event{Type: "other", Data: json.RawMessage(`{"a":1}`)}, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractEventDesc(tt.ev))
		})
	}
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "3m 5s", formatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h 10m", formatDuration(2*time.Hour+10*time.Minute))

	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 MiB", formatBytes(2<<20))

	assert.Equal(t, "abc...", truncate("abcdef", 3))
	assert.Equal(t, "abc", truncate("abc", 3))
}

func TestModelUpdate(t *testing.T) {
	m := New("http://127.0.0.1:3000/")
	assert.Equal(t, "http://127.0.0.1:3000", m.baseURL)

	next, _ := m.Update(eventMsg(event(t, 1, events.TypeChildState, events.ChildState{State: "ready", PID: 9})))
	model := next.(Model)
	assert.Equal(t, "ready", model.child.State)
	assert.True(t, model.health.Ready)
	assert.Len(t, model.eventLog, 1)

	next, _ = model.Update(healthMsg{
		Status:        "ok",
		Ready:         true,
		UptimeSeconds: 30,
		Child:         &supervisor.Stats{State: "ready", PID: 9, Pending: 3, RSSBytes: 4096},
	})
	model = next.(Model)
	assert.True(t, model.health.Connected)
	assert.Equal(t, int64(30), model.health.UptimeSeconds)
	assert.Equal(t, 3, model.child.Pending)
	assert.Equal(t, uint64(4096), model.child.RSSBytes)

	next, _ = model.Update(errMsg(errors.New("connection refused")))
	model = next.(Model)
	assert.Equal(t, "connection refused", model.lastError)

	for i := 0; i < maxEventLog+5; i++ {
		next, _ = model.Update(eventMsg(event(t, int64(100+i), events.TypeChildOutput, events.ChildOutput{Stream: "stdout", Line: "x"})))
		model = next.(Model)
	}
	assert.Len(t, model.eventLog, maxEventLog)
	assert.Equal(t, int64(100+maxEventLog+4), model.eventLog[0].ID)
}
