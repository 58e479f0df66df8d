package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
child:
  command: node
  args: ["dist/index.js"]
  dir: worker
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Child.Command != "node" {
		t.Errorf("Command = %q", cfg.Child.Command)
	}
	if got, want := cfg.Child.Dir, filepath.Join(dir, "worker"); got != want {
		t.Errorf("Dir = %q, want %q", got, want)
	}
	if cfg.HTTP.Listen != "127.0.0.1:3000" {
		t.Errorf("Listen = %q", cfg.HTTP.Listen)
	}
	if cfg.HTTP.RequestTimeout != 60*time.Second {
		t.Errorf("HTTP timeout = %v", cfg.HTTP.RequestTimeout)
	}
	if cfg.Stdio.RequestTimeout != 30*time.Second {
		t.Errorf("stdio timeout = %v", cfg.Stdio.RequestTimeout)
	}
	if cfg.Child.RestartBackoff != 5*time.Second {
		t.Errorf("RestartBackoff = %v", cfg.Child.RestartBackoff)
	}
	if cfg.Child.ReadyMarker != "Server connected and ready!" {
		t.Errorf("ReadyMarker = %q", cfg.Child.ReadyMarker)
	}
	if cfg.Child.PublishOutput {
		t.Error("PublishOutput should default to false")
	}
}

func TestLoadPublishOutput(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
child:
  command: node
  publish_output: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Child.PublishOutput {
		t.Error("PublishOutput = false, want true")
	}
}

func TestLoadRejectsMissingReadinessSignal(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
child:
  command: node
  ready_marker: ""
  ready_method: ""
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ready_marker or ready_method") {
		t.Fatalf("Load error = %v, want readiness signal error", err)
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "child:\n  command: ./worker\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir): %v", err)
	}
	if cfg.Child.Command != "./worker" {
		t.Errorf("Command = %q", cfg.Child.Command)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoadInterpolatesEnv(t *testing.T) {
	t.Setenv("RELAYGW_TEST_TOKEN", "s3cret")
	t.Setenv("RELAYGW_TEST_PORT", "4100")

	path := writeConfig(t, t.TempDir(), `
child:
  command: worker
  env:
    API_TOKEN: ${RELAYGW_TEST_TOKEN}
http:
  listen: 0.0.0.0:${RELAYGW_TEST_PORT}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Child.Env["API_TOKEN"] != "s3cret" {
		t.Errorf("API_TOKEN = %q", cfg.Child.Env["API_TOKEN"])
	}
	if cfg.HTTP.Listen != "0.0.0.0:4100" {
		t.Errorf("Listen = %q", cfg.HTTP.Listen)
	}
}

func TestLoadUnsetEnvFails(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
child:
  command: worker
  env:
    API_TOKEN: ${RELAYGW_TEST_DEFINITELY_UNSET}
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "RELAYGW_TEST_DEFINITELY_UNSET is not set") {
		t.Fatalf("expected unset env error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing command",
			mutate:  func(c *Config) { c.Child.Command = "" },
			wantErr: "child.command is required",
		},
		{
			name: "upstream only",
			mutate: func(c *Config) {
				c.Child.Command = ""
				c.Stdio.Upstream = "http://127.0.0.1:3000/mcp"
			},
		},
		{
			name:    "bad upstream",
			mutate:  func(c *Config) { c.Stdio.Upstream = "ftp://host/mcp" },
			wantErr: "stdio.upstream",
		},
		{
			name:    "zero backoff",
			mutate:  func(c *Config) { c.Child.RestartBackoff = 0 },
			wantErr: "restart_backoff",
		},
		{
			name:    "zero http timeout",
			mutate:  func(c *Config) { c.HTTP.RequestTimeout = 0 },
			wantErr: "http.request_timeout",
		},
		{
			name:    "zero stdio timeout",
			mutate:  func(c *Config) { c.Stdio.RequestTimeout = 0 },
			wantErr: "stdio.request_timeout",
		},
		{
			name:    "bad listen",
			mutate:  func(c *Config) { c.HTTP.Listen = "3000" },
			wantErr: "http.listen",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Service.LogFormat = "xml" },
			wantErr: "log_format",
		},
		{
			name: "no readiness signal",
			mutate: func(c *Config) {
				c.Child.ReadyMarker = ""
				c.Child.ReadyMethod = ""
			},
			wantErr: "set ready_marker or ready_method",
		},
		{
			name:   "marker only",
			mutate: func(c *Config) { c.Child.ReadyMethod = "" },
		},
		{
			name: "upstream without readiness signal",
			mutate: func(c *Config) {
				c.Child.Command = ""
				c.Child.ReadyMarker = ""
				c.Child.ReadyMethod = ""
				c.Stdio.Upstream = "http://127.0.0.1:3000/mcp"
			},
		},
		{
			name:    "bad env name",
			mutate:  func(c *Config) { c.Child.Env = map[string]string{"A=B": "x"} },
			wantErr: "invalid variable name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Child.Command = "worker"
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDiscoverEnvOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "child:\n  command: x\n")
	t.Setenv("RELAYGW_CONFIG", path)

	got, err := Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got != path {
		t.Errorf("Discover = %q, want %q", got, path)
	}
}

func TestEnviron(t *testing.T) {
	env := map[string]string{"PATH": "/usr/bin", "HOME": "/home/x", "SECRET": "leak"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	c := ChildConfig{
		EnvAllow: []string{"PATH", "HOME", "MISSING"},
		Env:      map[string]string{"HOME": "/srv", "API_KEY": "k"},
	}

	got := strings.Join(c.environ(lookup), " ")
	want := "API_KEY=k HOME=/srv PATH=/usr/bin"
	if got != want {
		t.Errorf("environ = %q, want %q", got, want)
	}
}

func TestReadSkipsValidation(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "http:\n  request_timeout: 0s\n")

	cfg, path, err := Read(dir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if path != filepath.Join(dir, "config.yaml") {
		t.Errorf("path = %q", path)
	}
	if cfg.HTTP.RequestTimeout != 0 {
		t.Errorf("RequestTimeout = %v", cfg.HTTP.RequestTimeout)
	}
	if Validate(cfg) == nil {
		t.Fatal("expected Validate to reject the config")
	}
}
