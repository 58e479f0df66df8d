package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relaygw/internal/correlate"
	"github.com/mattjoyce/relaygw/internal/protocol"
)

// fakeChild answers written requests through the table, like the
// supervisor's stdout reader would.
type fakeChild struct {
	table    *correlate.Table
	ready    bool
	writeErr error
	respond  func(msg protocol.Message) *correlate.Outcome
	// stalled makes Write block until ctx is done, like a child that has
	// stopped reading stdin.
	stalled bool

	mu    sync.Mutex
	lines []string
}

func newFakeChild() *fakeChild {
	return &fakeChild{table: correlate.New(), ready: true}
}

func (f *fakeChild) Table() *correlate.Table { return f.table }
func (f *fakeChild) Ready() bool             { return f.ready }

func (f *fakeChild) Write(ctx context.Context, line []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.stalled {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	f.lines = append(f.lines, string(line))
	f.mu.Unlock()

	msg, err := protocol.Decode(line)
	if err != nil {
		return err
	}
	if f.respond != nil && msg.Kind == protocol.KindRequest {
		if out := f.respond(msg); out != nil {
			go f.table.Resolve(msg.ID.Key(), *out)
		}
	}
	return nil
}

func (f *fakeChild) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func numberID(t *testing.T, n int) protocol.ID {
	t.Helper()
	var id protocol.ID
	require.NoError(t, id.UnmarshalJSON([]byte(strconv.Itoa(n))))
	return id
}

func echoParams(msg protocol.Message) *correlate.Outcome {
	return &correlate.Outcome{Result: msg.Params}
}

func TestMultiplexerCall(t *testing.T) {
	child := newFakeChild()
	child.respond = echoParams
	m := NewMultiplexer(child, MultiplexerOptions{Timeout: time.Second})

	res, err := m.Call(context.Background(), Call{
		ID:     numberID(t, 7),
		Method: "echo",
		Params: json.RawMessage(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(res))
	assert.Equal(t, 0, child.table.Len())

	// Without PreserveIDs the caller's id is replaced by a uuid.
	lines := child.written()
	require.Len(t, lines, 1)
	msg, err := protocol.Decode([]byte(lines[0]))
	require.NoError(t, err)
	_, err = uuid.Parse(strings.Trim(msg.ID.String(), `"`))
	assert.NoError(t, err, "minted id %s", msg.ID)
}

func TestMultiplexerPreservesIDs(t *testing.T) {
	child := newFakeChild()
	child.respond = echoParams
	m := NewMultiplexer(child, MultiplexerOptions{Timeout: time.Second, PreserveIDs: true})

	_, err := m.Call(context.Background(), Call{ID: protocol.StringID("abc"), Method: "echo"})
	require.NoError(t, err)

	lines := child.written()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"id":"abc"`)
}

func TestMultiplexerMissingMethod(t *testing.T) {
	m := NewMultiplexer(newFakeChild(), MultiplexerOptions{})
	_, err := m.Call(context.Background(), Call{})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestMultiplexerNotReadyCleansUp(t *testing.T) {
	child := newFakeChild()
	child.writeErr = ErrNotReady
	m := NewMultiplexer(child, MultiplexerOptions{Timeout: time.Second})

	_, err := m.Call(context.Background(), Call{Method: "tools/list"})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 0, child.table.Len())
}

func TestMultiplexerChildError(t *testing.T) {
	child := newFakeChild()
	child.respond = func(protocol.Message) *correlate.Outcome {
		return &correlate.Outcome{Err: &protocol.Error{Code: -32000, Message: "boom"}}
	}
	m := NewMultiplexer(child, MultiplexerOptions{Timeout: time.Second})

	_, err := m.Call(context.Background(), Call{Method: "fail"})
	var rpcErr *protocol.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)
}

func TestMultiplexerTimeout(t *testing.T) {
	child := newFakeChild()
	m := NewMultiplexer(child, MultiplexerOptions{Timeout: 20 * time.Millisecond})

	_, err := m.Call(context.Background(), Call{Method: "noreply"})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, child.table.Len())
}

func TestMultiplexerContextCancel(t *testing.T) {
	child := newFakeChild()
	m := NewMultiplexer(child, MultiplexerOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Call(ctx, Call{Method: "noreply"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, child.table.Len())
}

func TestMultiplexerDuplicateID(t *testing.T) {
	child := newFakeChild()
	m := NewMultiplexer(child, MultiplexerOptions{PreserveIDs: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = m.Call(ctx, Call{ID: numberID(t, 1), Method: "noreply"})
	}()
	<-started
	require.Eventually(t, func() bool { return child.table.Len() == 1 }, time.Second, time.Millisecond)

	_, err := m.Call(context.Background(), Call{ID: numberID(t, 1), Method: "echo"})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestMultiplexerConcurrentCallsGetOwnResults(t *testing.T) {
	child := newFakeChild()
	var mu sync.Mutex
	var held []protocol.Message
	child.respond = func(msg protocol.Message) *correlate.Outcome {
		mu.Lock()
		held = append(held, msg)
		mu.Unlock()
		return nil
	}
	m := NewMultiplexer(child, MultiplexerOptions{Timeout: 5 * time.Second})

	const n = 20
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := m.Call(context.Background(), Call{Method: "echo", Params: json.RawMessage(fmt.Sprint(i))})
			if err == nil {
				results[i] = string(res)
			}
		}(i)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(held) == n
	}, 5*time.Second, time.Millisecond)

	// Answer in reverse arrival order.
	mu.Lock()
	for i := len(held) - 1; i >= 0; i-- {
		child.table.Resolve(held[i].ID.Key(), correlate.Outcome{Result: held[i].Params})
	}
	mu.Unlock()
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprint(i), results[i])
	}
}

func TestMultiplexerNotify(t *testing.T) {
	child := newFakeChild()
	m := NewMultiplexer(child, MultiplexerOptions{})

	require.NoError(t, m.Notify(context.Background(), "notifications/cancelled", json.RawMessage(`{"x":1}`)))
	lines := child.written()
	require.Len(t, lines, 1)
	assert.Equal(t, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"x":1}}`+"\n", lines[0])
	assert.Equal(t, 0, child.table.Len())

	assert.ErrorIs(t, m.Notify(context.Background(), "", nil), ErrBadRequest)
}

func TestMultiplexerStalledWriteTimesOut(t *testing.T) {
	child := newFakeChild()
	child.stalled = true
	m := NewMultiplexer(child, MultiplexerOptions{Timeout: 100 * time.Millisecond})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	start := time.Now()
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Call(context.Background(), Call{Method: "echo"})
		}(i)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 2*time.Second)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrTimeout)
	}
	assert.Equal(t, 0, child.table.Len())
}

func TestMultiplexerStalledWriteHonoursCancel(t *testing.T) {
	child := newFakeChild()
	child.stalled = true
	m := NewMultiplexer(child, MultiplexerOptions{Timeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.Call(ctx, Call{Method: "echo"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, child.table.Len())
}
