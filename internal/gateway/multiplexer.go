package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/relaygw/internal/correlate"
	"github.com/mattjoyce/relaygw/internal/metrics"
	"github.com/mattjoyce/relaygw/internal/protocol"
)

// Child is the part of the supervisor a Multiplexer needs.
type Child interface {
	Write(ctx context.Context, line []byte) error
	Ready() bool
	Table() *correlate.Table
}

// Multiplexer shares one child among any number of concurrent callers.
type Multiplexer struct {
	child       Child
	table       *correlate.Table
	timeout     time.Duration
	preserveIDs bool
}

// MultiplexerOptions tune a Multiplexer.
type MultiplexerOptions struct {
	// Timeout bounds each call from registration to outcome.
	Timeout time.Duration
	// PreserveIDs forwards the caller's id verbatim. Otherwise every call
	// gets a fresh uuid and the caller's id is ignored.
	PreserveIDs bool
}

// NewMultiplexer returns a Caller backed by child.
func NewMultiplexer(child Child, opts MultiplexerOptions) *Multiplexer {
	return &Multiplexer{
		child:       child,
		table:       child.Table(),
		timeout:     opts.Timeout,
		preserveIDs: opts.PreserveIDs,
	}
}

func (m *Multiplexer) Call(ctx context.Context, c Call) (json.RawMessage, error) {
	if c.Method == "" {
		return nil, ErrBadRequest
	}

	id := c.ID
	if !m.preserveIDs || id.IsZero() {
		id = protocol.StringID(uuid.NewString())
	}

	line, err := protocol.MarshalLine(protocol.NewRequest(id, c.Method, c.Params))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	key := id.Key()
	w, err := m.table.Register(key, m.timeout)
	if err != nil {
		return nil, err
	}
	metrics.SetPending(m.table.Len())

	if err := m.write(ctx, line); err != nil {
		m.table.Cancel(key)
		metrics.SetPending(m.table.Len())
		return nil, err
	}

	select {
	case out := <-w.Done():
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Result, nil
	case <-ctx.Done():
		m.table.Cancel(key)
		metrics.SetPending(m.table.Len())
		return nil, ctx.Err()
	}
}

func (m *Multiplexer) Notify(ctx context.Context, method string, params json.RawMessage) error {
	if method == "" {
		return ErrBadRequest
	}
	line, err := protocol.MarshalLine(protocol.NewRequest(protocol.ID{}, method, params))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return m.write(ctx, line)
}

// write bounds the child write by the call timeout as well as ctx, so a
// child that stops reading stdin cannot hold a caller past its deadline.
func (m *Multiplexer) write(ctx context.Context, line []byte) error {
	if m.timeout <= 0 {
		return m.child.Write(ctx, line)
	}
	wctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.child.Write(wctx, line)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ErrTimeout
	}
	return err
}

func (m *Multiplexer) Ready() bool { return m.child.Ready() }
