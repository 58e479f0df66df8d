// Package doctor checks a relaygw configuration for mistakes that would only
// surface once the child is spawned.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/relaygw/internal/config"
)

const (
	minSafeBackoff = 100 * time.Millisecond
	maxSaneTimeout = 10 * time.Minute
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a parsed configuration.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	getenv   func(string) (string, bool)
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, getenv: os.LookupEnv}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateSchema(r)
	d.validateChildCommand(r)
	d.warnReadiness(r)
	d.warnTimings(r)
	d.warnExposure(r)
	d.warnMissingEnvVars(r)
	d.warnLogLevel(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateSchema(r *Result) {
	err := config.Validate(d.cfg)
	if err == nil {
		return
	}
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			d.addError(r, "schema", "", line)
		}
	}
}

// validateChildCommand checks the child can actually be spawned.
func (d *Doctor) validateChildCommand(r *Result) {
	child := d.cfg.Child
	if child.Command == "" {
		return
	}

	if child.Dir != "" {
		info, err := os.Stat(child.Dir)
		if err != nil || !info.IsDir() {
			d.addError(r, "child", "child.dir", fmt.Sprintf("working directory %q does not exist", child.Dir))
		}
	}

	cmd := child.Command
	if strings.ContainsRune(cmd, filepath.Separator) {
		if !filepath.IsAbs(cmd) && child.Dir != "" {
			cmd = filepath.Join(child.Dir, cmd)
		}
		info, err := os.Stat(cmd)
		switch {
		case err != nil:
			d.addError(r, "child", "child.command", fmt.Sprintf("%q not found", cmd))
		case info.Mode()&0o111 == 0:
			d.addError(r, "child", "child.command", fmt.Sprintf("%q is not executable", cmd))
		}
		return
	}
	if _, err := d.lookPath(cmd); err != nil {
		d.addError(r, "child", "child.command", fmt.Sprintf("%q not found in PATH", cmd))
	}
}

func (d *Doctor) warnReadiness(r *Result) {
	child := d.cfg.Child
	if child.Command == "" {
		return
	}
	if m := child.ReadyMarker; m != "" && len(strings.TrimSpace(m)) < 4 {
		d.addWarning(r, "child", "child.ready_marker",
			fmt.Sprintf("marker %q is short and may match unrelated log output", m))
	}
}

func (d *Doctor) warnTimings(r *Result) {
	if b := d.cfg.Child.RestartBackoff; b > 0 && b < minSafeBackoff {
		d.addWarning(r, "child", "child.restart_backoff",
			fmt.Sprintf("backoff %s can spin a crashing child in a tight loop", b))
	}
	if t := d.cfg.HTTP.RequestTimeout; t > maxSaneTimeout {
		d.addWarning(r, "http", "http.request_timeout",
			fmt.Sprintf("timeout %s holds correlation entries for a long time", t))
	}
	if t := d.cfg.Stdio.RequestTimeout; t > maxSaneTimeout {
		d.addWarning(r, "stdio", "stdio.request_timeout",
			fmt.Sprintf("timeout %s holds correlation entries for a long time", t))
	}
}

// warnExposure flags an unauthenticated gateway reachable beyond loopback.
func (d *Doctor) warnExposure(r *Result) {
	host, _, err := net.SplitHostPort(d.cfg.HTTP.Listen)
	if err != nil {
		return
	}
	ip := net.ParseIP(host)
	loopback := host == "localhost" || (ip != nil && ip.IsLoopback())
	if !loopback {
		d.addWarning(r, "http", "http.listen",
			fmt.Sprintf("%s is reachable from other hosts and POST /mcp has no authentication", d.cfg.HTTP.Listen))
	}
	for _, o := range d.cfg.HTTP.AllowedOrigins {
		if o == "*" && !loopback {
			d.addWarning(r, "http", "http.allowed_origins", "any browser origin may call the gateway")
			break
		}
	}
	if d.cfg.Child.PublishOutput && !loopback {
		d.addWarning(r, "http", "child.publish_output",
			"raw child output is streamed on the unauthenticated /events endpoint")
	}
}

func (d *Doctor) warnMissingEnvVars(r *Result) {
	for _, name := range d.cfg.Child.EnvAllow {
		if _, ok := d.getenv(name); !ok {
			d.addWarning(r, "env", "child.env_allow",
				fmt.Sprintf("%s is allowlisted but not set in the bridge environment", name))
		}
	}
	for k, v := range d.cfg.Child.Env {
		if v == "" {
			d.addWarning(r, "env", fmt.Sprintf("child.env.%s", k), "value is empty")
		}
	}
}

func (d *Doctor) warnLogLevel(r *Result) {
	switch strings.ToLower(d.cfg.Service.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		d.addWarning(r, "service", "service.log_level",
			fmt.Sprintf("unknown level %q, falling back to info", d.cfg.Service.LogLevel))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
