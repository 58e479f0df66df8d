// Package childtest is a scriptable JSON-RPC child for tests. A test binary
// calls MaybeServe from TestMain; Config then points the supervisor at the
// same binary so it re-executes itself as the child.
package childtest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/relaygw/internal/config"
	"github.com/mattjoyce/relaygw/internal/protocol"
)

const (
	EnvFakeChild  = "RELAYGW_FAKE_CHILD"
	EnvReadyDelay = "RELAYGW_FAKE_READY_DELAY"
	EnvReadyMode  = "RELAYGW_FAKE_READY"
	EnvStdin      = "RELAYGW_FAKE_STDIN"
	EnvHang       = "RELAYGW_FAKE_HANG"

	ReadyMarker = "Server connected and ready!"
	ReadyMethod = "notifications/ready"
)

// ReadyMode selects how the fake child announces readiness.
const (
	ReadyStderr = "stderr"
	ReadyStdout = "stdout"
	ReadyNotify = "notify"
	ReadyNever  = "never"
)

// StdinIgnore makes the fake child announce readiness and then never read
// its stdin, so the parent's writes fill the pipe.
const StdinIgnore = "ignore"

var exit = os.Exit

// MaybeServe runs the fake child and exits when the current process was
// started as one. It returns immediately otherwise.
func MaybeServe() {
	if os.Getenv(EnvHang) == "1" {
		time.Sleep(time.Hour)
		exit(0)
	}
	if os.Getenv(EnvFakeChild) != "1" {
		return
	}
	exit(Serve(os.Stdin, os.Stdout, os.Stderr))
}

// Config returns a child config that re-executes the running test binary as
// the fake child. extra is merged into the child's environment.
func Config(extra map[string]string) config.ChildConfig {
	exe, err := os.Executable()
	if err != nil {
		panic(fmt.Sprintf("childtest: %v", err))
	}
	env := map[string]string{EnvFakeChild: "1"}
	for k, v := range extra {
		env[k] = v
	}
	return config.ChildConfig{
		Command:        exe,
		Env:            env,
		ReadyMarker:    ReadyMarker,
		ReadyMethod:    ReadyMethod,
		RestartBackoff: 100 * time.Millisecond,
		StopGrace:      time.Second,
	}
}

type child struct {
	mu   sync.Mutex
	out  io.Writer
	diag io.Writer

	notes atomic.Int64
	wg    sync.WaitGroup

	askMu sync.Mutex
	asks  map[string]protocol.ID
	seq   atomic.Int64
}

// Serve speaks line-delimited JSON-RPC on in/out and writes diagnostics to
// diag until in reaches EOF. Supported methods:
//
//	tools/list          fixed tool catalogue
//	echo                result is the params
//	sleep {"ms":N}      replies after N milliseconds
//	fail                error -32000 "boom"
//	crash               exits with status 3
//	noreply             never answers
//	pid                 {"pid":N}
//	spawn               starts a background process that inherits stdout
//	                    and stderr, returns {"pid":N} of that process
//	notifications/seen  count of notifications received
//	ask                 asks the parent "roots/list" and returns its answer
func Serve(in io.Reader, out, diag io.Writer) int {
	c := &child{out: out, diag: diag, asks: make(map[string]protocol.ID)}

	fmt.Fprintln(out, "fake child booting")
	c.announce()

	if os.Getenv(EnvStdin) == StdinIgnore {
		time.Sleep(time.Hour)
		return 0
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), protocol.DefaultMaxLine)
	for scanner.Scan() {
		msg, err := protocol.Decode(scanner.Bytes())
		if err != nil {
			fmt.Fprintf(diag, "fake child: ignoring line: %v\n", err)
			continue
		}
		switch msg.Kind {
		case protocol.KindNotification:
			c.notes.Add(1)
		case protocol.KindResponse:
			c.answerAsk(msg)
		case protocol.KindRequest:
			c.wg.Add(1)
			go func(m protocol.Message) {
				defer c.wg.Done()
				c.handle(m)
			}(msg)
		}
	}
	c.wg.Wait()
	return 0
}

func (c *child) announce() {
	mode := os.Getenv(EnvReadyMode)
	if mode == "" {
		mode = ReadyStderr
	}
	if ms, err := strconv.Atoi(os.Getenv(EnvReadyDelay)); err == nil && ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
	switch mode {
	case ReadyStderr:
		fmt.Fprintln(c.diag, ReadyMarker)
	case ReadyStdout:
		c.write([]byte(ReadyMarker + "\n"))
	case ReadyNotify:
		c.send(protocol.NewRequest(protocol.ID{}, ReadyMethod, nil))
	}
}

func (c *child) handle(m protocol.Message) {
	switch m.Method {
	case "tools/list":
		c.reply(m.ID, json.RawMessage(`{"tools":[{"name":"echo"},{"name":"sleep"}]}`))
	case "echo":
		c.reply(m.ID, m.Params)
	case "sleep":
		var p struct {
			MS int `json:"ms"`
		}
		_ = json.Unmarshal(m.Params, &p)
		time.Sleep(time.Duration(p.MS) * time.Millisecond)
		c.reply(m.ID, json.RawMessage(fmt.Sprintf(`{"slept":%d}`, p.MS)))
	case "fail":
		c.send(protocol.NewError(m.ID, -32000, "boom"))
	case "crash":
		fmt.Fprintln(c.diag, "fake child: crashing on request")
		exit(3)
	case "noreply":
	case "pid":
		c.reply(m.ID, json.RawMessage(fmt.Sprintf(`{"pid":%d}`, os.Getpid())))
	case "spawn":
		pid, err := c.spawn()
		if err != nil {
			c.send(protocol.NewError(m.ID, -32000, err.Error()))
			return
		}
		c.reply(m.ID, json.RawMessage(fmt.Sprintf(`{"pid":%d}`, pid)))
	case "notifications/seen":
		c.reply(m.ID, json.RawMessage(strconv.FormatInt(c.notes.Load(), 10)))
	case "ask":
		key := fmt.Sprintf("child-%d", c.seq.Add(1))
		c.askMu.Lock()
		c.asks[key] = m.ID
		c.askMu.Unlock()
		c.send(protocol.NewRequest(protocol.StringID(key), "roots/list", nil))
	default:
		c.send(protocol.NewError(m.ID, protocol.CodeMethodNotFound, "method not found"))
	}
}

// spawn starts a copy of this binary that sleeps while holding the child's
// stdout and stderr open. It is not waited for.
func (c *child) spawn() (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), EnvHang+"=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

func (c *child) answerAsk(m protocol.Message) {
	c.askMu.Lock()
	orig, ok := c.asks[m.ID.Key()]
	delete(c.asks, m.ID.Key())
	c.askMu.Unlock()
	if !ok {
		return
	}
	if m.Error != nil {
		c.reply(orig, json.RawMessage(fmt.Sprintf(`{"parent_error":%d}`, m.Error.Code)))
		return
	}
	c.reply(orig, m.Result)
}

func (c *child) reply(id protocol.ID, result json.RawMessage) {
	c.send(protocol.NewResult(id, result))
}

func (c *child) send(v any) {
	line, err := protocol.MarshalLine(v)
	if err != nil {
		fmt.Fprintf(c.diag, "fake child: marshal: %v\n", err)
		return
	}
	c.write(line)
}

func (c *child) write(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.out.Write(p)
}
