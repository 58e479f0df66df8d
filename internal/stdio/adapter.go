// Package stdio is the process-to-process gateway: JSON-RPC frames arrive on
// the bridge's stdin and replies leave on its stdout, each echoing the
// caller's own id.
package stdio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/relaygw/internal/events"
	"github.com/mattjoyce/relaygw/internal/gateway"
	"github.com/mattjoyce/relaygw/internal/log"
	"github.com/mattjoyce/relaygw/internal/protocol"
)

const readChunk = 32 * 1024

// Adapter reads calls from in and writes responses to out.
type Adapter struct {
	caller gateway.Caller
	in     io.Reader
	out    io.Writer
	events events.Publisher
	logger *slog.Logger

	mu sync.Mutex // guards out
}

// New returns an Adapter. pub may be nil.
func New(caller gateway.Caller, in io.Reader, out io.Writer, pub events.Publisher) *Adapter {
	if pub == nil {
		pub = events.Discard
	}
	return &Adapter{
		caller: caller,
		in:     in,
		out:    out,
		events: pub,
		logger: log.WithComponent("stdio"),
	}
}

// Serve handles frames until in reaches EOF or ctx is done. Calls run
// concurrently; Serve waits for the ones in flight before returning.
func (a *Adapter) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	batches := make(chan []protocol.Message)
	readErr := make(chan error, 1)
	go a.read(ctx, batches, readErr)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				a.logger.Info("stdin closed, draining in-flight calls")
				return nil
			}
			return err
		case msgs := <-batches:
			for _, msg := range msgs {
				a.dispatch(ctx, msg, &inflight)
			}
		}
	}
}

func (a *Adapter) read(ctx context.Context, batches chan<- []protocol.Message, readErr chan<- error) {
	framer := protocol.NewFramer(a.onText)
	buf := make([]byte, readChunk)

	send := func(msgs []protocol.Message) bool {
		if len(msgs) == 0 {
			return true
		}
		select {
		case batches <- msgs:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		n, err := a.in.Read(buf)
		if n > 0 && !send(framer.Feed(buf[:n])) {
			return
		}
		if err != nil {
			if !send(framer.Flush()) {
				return
			}
			readErr <- err
			return
		}
	}
}

func (a *Adapter) dispatch(ctx context.Context, msg protocol.Message, inflight *sync.WaitGroup) {
	switch msg.Kind {
	case protocol.KindRequest:
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			a.handleCall(ctx, msg)
		}()

	case protocol.KindNotification:
		if err := a.caller.Notify(ctx, msg.Method, msg.Params); err != nil {
			a.logger.Debug("notification not delivered", "method", msg.Method, "error", err)
		}

	case protocol.KindResponse:
		a.logger.Debug("ignoring response from parent", "id", msg.ID.String())
	}
}

func (a *Adapter) handleCall(ctx context.Context, msg protocol.Message) {
	start := time.Now()
	result, err := a.caller.Call(ctx, gateway.Call{ID: msg.ID, Method: msg.Method, Params: msg.Params})
	gateway.Record(a.events, "stdio", msg.Method, start, err)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		a.logger.Debug("call failed", "method", msg.Method, "outcome", gateway.Outcome(err), "error", err)
		a.write(errorResponse(msg.ID, err))
		return
	}
	a.write(protocol.NewResult(msg.ID, result))
}

// errorResponse keeps a child-reported error intact, data included.
func errorResponse(id protocol.ID, err error) *protocol.Response {
	var rpcErr *protocol.Error
	if errors.As(err, &rpcErr) {
		return &protocol.Response{JSONRPC: protocol.Version, ID: id, Error: rpcErr}
	}
	code, message, _ := gateway.Envelope(err)
	return protocol.NewError(id, code, message)
}

func (a *Adapter) onText(line string) {
	a.logger.Warn("unparseable frame on stdin", "bytes", len(line))
	a.write(protocol.NewError(protocol.ID{}, protocol.CodeParseError, "Parse error"))
}

func (a *Adapter) write(resp *protocol.Response) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := protocol.EncodeResponse(a.out, resp); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}
