package supervisor

import (
	"context"
	"fmt"
	"os"
)

// pipes holds both ends of the child's stdio. The child ends are handed to
// the process directly, so exec starts no copying goroutines and cmd.Wait
// returns as soon as the child exits.
type pipes struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
}

func openPipes() (*pipes, error) {
	var p pipes
	var err error
	if p.stdinR, p.stdinW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	return &p, nil
}

// closeChildEnds drops the bridge's copies of the ends the child now owns.
func (p *pipes) closeChildEnds() {
	for _, f := range []*os.File{p.stdinR, p.stdoutW, p.stderrW} {
		_ = f.Close()
	}
}

func (p *pipes) closeAll() {
	for _, f := range []*os.File{p.stdinR, p.stdinW, p.stdoutR, p.stdoutW, p.stderrR, p.stderrW} {
		if f != nil {
			_ = f.Close()
		}
	}
}

type writeRequest struct {
	line   []byte
	result chan error
}

// stdinWriter is the single goroutine allowed to write the child's stdin.
// Callers hand it lines and wait with their own deadline, so a child that
// stops reading blocks only the writer, never the callers.
type stdinWriter struct {
	f        *os.File
	requests chan writeRequest
	stop     chan struct{}
	done     chan struct{}
}

func newStdinWriter(f *os.File) *stdinWriter {
	w := &stdinWriter{
		f:        f,
		requests: make(chan writeRequest),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *stdinWriter) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case req := <-w.requests:
			var err error
			if _, werr := w.f.Write(req.line); werr != nil {
				err = fmt.Errorf("%w: %v", ErrChildDied, werr)
			}
			req.result <- err
		}
	}
}

// write hands line to the writer and waits for it to be written, for the
// writer to stop, or for ctx.
func (w *stdinWriter) write(ctx context.Context, line []byte) error {
	req := writeRequest{line: line, result: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.done:
		return ErrChildDied
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-w.done:
		// The result is sent before done closes.
		select {
		case err := <-req.result:
			return err
		default:
			return ErrChildDied
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close closes stdin, which also unblocks a write stuck on a full pipe, and
// waits for the writer goroutine to finish.
func (w *stdinWriter) close() {
	close(w.stop)
	_ = w.f.Close()
	<-w.done
}
