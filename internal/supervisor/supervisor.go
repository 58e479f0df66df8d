// Package supervisor keeps exactly one child process alive, watches it for
// readiness, and routes its stdout responses into the correlation table.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/relaygw/internal/config"
	"github.com/mattjoyce/relaygw/internal/correlate"
	"github.com/mattjoyce/relaygw/internal/events"
	"github.com/mattjoyce/relaygw/internal/log"
	"github.com/mattjoyce/relaygw/internal/metrics"
	"github.com/mattjoyce/relaygw/internal/protocol"
)

const readChunk = 32 * 1024

// outputDrain bounds how long child output is read after the child has
// exited, in case something outside its process group still holds the pipes.
const outputDrain = time.Second

// Supervisor owns the child process. Run drives the restart loop; Write is
// safe for concurrent use by gateways.
type Supervisor struct {
	cfg    config.ChildConfig
	table  *correlate.Table
	events events.Publisher
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	changed   chan struct{}
	stdin     *stdinWriter
	pid       int
	startedAt time.Time
	restarts  int64
}

// New creates a supervisor for cfg. Responses read from the child resolve
// entries in table.
func New(cfg config.ChildConfig, table *correlate.Table, pub events.Publisher) *Supervisor {
	if pub == nil {
		pub = events.Discard
	}
	return &Supervisor{
		cfg:     cfg,
		table:   table,
		events:  pub,
		logger:  log.WithComponent("supervisor"),
		changed: make(chan struct{}),
	}
}

// Table returns the correlation table the supervisor resolves into.
func (s *Supervisor) Table() *correlate.Table { return s.table }

// Run spawns the child and restarts it after each exit until ctx is done.
// It returns once the last child has been reaped.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(StateStopped)

	for {
		s.setState(StateStarting)
		pid, err := s.runOnce(ctx)

		// runOnce has already stopped the stdin writer, so nothing written
		// after this point can reach the exited child.
		s.setState(StateExited)

		failed := s.table.FailAll(ErrChildDied)
		metrics.RecordChildDied(failed)
		metrics.SetPending(s.table.Len())

		exit := events.ChildExit{PID: pid, Failed: failed}
		if err != nil {
			exit.Error = err.Error()
		}
		s.events.Publish(events.TypeChildExit, exit)

		if ctx.Err() != nil {
			s.logger.Info("child stopped", "pid", pid, "failed_requests", failed)
			return nil
		}
		s.logger.Warn("child exited", "pid", pid, "error", err, "failed_requests", failed,
			"restart_in", s.cfg.RestartBackoff)

		s.setState(StateRestarting)
		timer := time.NewTimer(s.cfg.RestartBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		metrics.RecordRestart()
	}
}

// runOnce starts one child and blocks until it has exited. The child runs in
// its own process group; once the child itself is gone, the rest of the group
// is killed and output is drained for at most outputDrain. It returns the
// child's pid and exit error.
func (s *Supervisor) runOnce(ctx context.Context) (int, error) {
	p, err := openPipes()
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = s.cfg.Environ()
	cmd.Stdin = p.stdinR
	cmd.Stdout = p.stdoutW
	cmd.Stderr = p.stderrW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		p.closeAll()
		return 0, fmt.Errorf("start child: %w", err)
	}
	p.closeChildEnds()
	pid := cmd.Process.Pid

	stdin := newStdinWriter(p.stdinW)
	s.mu.Lock()
	s.stdin = stdin
	s.pid = pid
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("child started", "pid", pid, "command", s.cfg.Command)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.readStdout(p.stdoutR)
	}()
	go func() {
		defer readers.Done()
		s.readStderr(p.stderrR)
	}()

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()

	select {
	case <-exited:
	case <-ctx.Done():
		s.terminate(pid, exited)
		<-exited
	}

	stdin.close()
	killGroup(pid)

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()
	drain := time.NewTimer(outputDrain)
	select {
	case <-drained:
	case <-drain.C:
		s.logger.Warn("child output still open after exit, closing pipes", "pid", pid)
	}
	drain.Stop()
	_ = p.stdoutR.Close()
	_ = p.stderrR.Close()
	<-drained

	s.mu.Lock()
	s.stdin = nil
	s.pid = 0
	s.mu.Unlock()

	return pid, waitErr
}

// terminate sends SIGTERM to the child's process group, then SIGKILL if the
// child outlives the grace period.
func (s *Supervisor) terminate(pid int, exited <-chan struct{}) {
	s.logger.Info("stopping child, sending SIGTERM", "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		s.logger.Debug("failed to send SIGTERM", "pid", pid, "error", err)
	}

	grace := time.NewTimer(s.cfg.StopGrace)
	defer grace.Stop()

	select {
	case <-exited:
	case <-grace.C:
		s.logger.Warn("child did not exit after SIGTERM, sending SIGKILL", "pid", pid)
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			s.logger.Error("failed to send SIGKILL", "pid", pid, "error", err)
		}
	}
}

// killGroup kills whatever is left in the child's process group.
func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func (s *Supervisor) readStdout(r io.Reader) {
	logger := log.WithChild("stdout")
	framer := protocol.NewFramer(func(line string) {
		logger.Info(line)
		s.publishOutput("stdout", line)
		s.checkMarker(line)
	})

	buf := make([]byte, readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, msg := range framer.Feed(buf[:n]) {
				s.dispatch(msg)
			}
		}
		if err != nil {
			if err != io.EOF {
				logger.Debug("stdout read ended", "error", err)
			}
			break
		}
	}
	for _, msg := range framer.Flush() {
		s.dispatch(msg)
	}
}

func (s *Supervisor) readStderr(r io.Reader) {
	logger := log.WithChild("stderr")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), protocol.DefaultMaxLine)
	for scanner.Scan() {
		line := scanner.Text()
		logger.Info(line)
		s.publishOutput("stderr", line)
		s.checkMarker(line)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("stderr read ended", "error", err)
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

func (s *Supervisor) dispatch(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindResponse:
		out := correlate.Outcome{Result: msg.Result}
		if msg.Error != nil {
			out = correlate.Outcome{Err: msg.Error}
		}
		if !s.table.Resolve(msg.ID.Key(), out) {
			s.logger.Debug("discarding response for unknown id", "id", msg.ID.String())
		}
		metrics.SetPending(s.table.Len())

	case protocol.KindNotification:
		if s.cfg.ReadyMethod != "" && msg.Method == s.cfg.ReadyMethod {
			s.markReady("notification")
			return
		}
		s.logger.Debug("child notification", "method", msg.Method)

	case protocol.KindRequest:
		// The bridge serves no methods of its own. The reply goes out from its
		// own goroutine so the stdout reader never waits on the child's stdin.
		s.logger.Debug("rejecting child-initiated request", "method", msg.Method, "id", msg.ID.String())
		go s.rejectRequest(msg.ID)
	}
}

func (s *Supervisor) rejectRequest(id protocol.ID) {
	line, err := protocol.MarshalLine(protocol.NewError(id, protocol.CodeMethodNotFound, "method not found"))
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopGrace+time.Second)
	defer cancel()
	if err := s.send(ctx, line); err != nil {
		s.logger.Debug("failed to answer child request", "error", err)
	}
}

// publishOutput forwards a child output line to subscribers when
// child.publish_output is set. The line is always logged regardless.
func (s *Supervisor) publishOutput(stream, line string) {
	if s.cfg.PublishOutput {
		s.events.Publish(events.TypeChildOutput, events.ChildOutput{Stream: stream, Line: line})
	}
}

func (s *Supervisor) checkMarker(line string) {
	if s.cfg.ReadyMarker != "" && strings.Contains(line, s.cfg.ReadyMarker) {
		s.markReady("marker")
	}
}

// Write sends one framed line to the child. It fails fast with ErrNotReady
// unless the child is Ready, and never queues across restarts. A child that
// stops reading stdin cannot hold Write past ctx.
func (s *Supervisor) Write(ctx context.Context, line []byte) error {
	if s.State() != StateReady {
		return ErrNotReady
	}
	return s.send(ctx, line)
}

func (s *Supervisor) send(ctx context.Context, line []byte) error {
	s.mu.Lock()
	w := s.stdin
	s.mu.Unlock()
	if w == nil {
		return ErrNotReady
	}
	return w.write(ctx, line)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether requests are currently accepted.
func (s *Supervisor) Ready() bool { return s.State() == StateReady }

// PID returns the running child's pid, or 0 when none is running.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Restarts returns how many times the child has been restarted.
func (s *Supervisor) Restarts() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// WaitState blocks until the supervisor reaches want or ctx is done.
func (s *Supervisor) WaitState(ctx context.Context, want State) error {
	for {
		s.mu.Lock()
		cur, ch := s.state, s.changed
		s.mu.Unlock()
		if cur == want {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s (state %s): %w", want, cur, ctx.Err())
		}
	}
}

// WaitReady blocks until the child is Ready or ctx is done.
func (s *Supervisor) WaitReady(ctx context.Context) error {
	return s.WaitState(ctx, StateReady)
}

func (s *Supervisor) markReady(via string) {
	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateReady)
	pid := s.pid
	s.mu.Unlock()

	s.logger.Info("child ready", "pid", pid, "via", via)
	s.publishState(StateReady)
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(st)
	s.mu.Unlock()

	s.logger.Debug("child state", "state", st.String())
	s.publishState(st)
}

func (s *Supervisor) setStateLocked(st State) {
	s.state = st
	close(s.changed)
	s.changed = make(chan struct{})
	metrics.SetChildState(int(st))
}

func (s *Supervisor) publishState(st State) {
	s.mu.Lock()
	payload := events.ChildState{State: st.String(), PID: s.pid, Restarts: s.restarts}
	s.mu.Unlock()
	s.events.Publish(events.TypeChildState, payload)
}
