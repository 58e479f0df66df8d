package config

import "time"

// Config represents the complete relaygw configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Child   ChildConfig   `yaml:"child"`
	HTTP    HTTPConfig    `yaml:"http"`
	Stdio   StdioConfig   `yaml:"stdio"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PIDFile   string `yaml:"pid_file,omitempty"`
}

// ChildConfig describes the supervised JSON-RPC worker process.
// Env carries whatever the child needs to reach its own collaborators
// (credentials included); the bridge passes it through without reading it.
// PublishOutput exposes raw child stdout/stderr lines on the events stream.
type ChildConfig struct {
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args,omitempty"`
	Dir            string            `yaml:"dir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	EnvAllow       []string          `yaml:"env_allow,omitempty"`
	ReadyMarker    string            `yaml:"ready_marker,omitempty"`
	ReadyMethod    string            `yaml:"ready_method,omitempty"`
	RestartBackoff time.Duration     `yaml:"restart_backoff"`
	StopGrace      time.Duration     `yaml:"stop_grace"`
	PublishOutput  bool              `yaml:"publish_output,omitempty"`
}

// HTTPConfig defines the network-facing gateway.
type HTTPConfig struct {
	Listen         string        `yaml:"listen"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins,omitempty"`
	Metrics        bool          `yaml:"metrics"`
}

// StdioConfig defines the process-to-process gateway.
// When Upstream is set the stdio gateway relays to a remote POST /mcp
// endpoint instead of supervising a local child.
type StdioConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Upstream       string        `yaml:"upstream,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "relaygw",
			LogLevel:  "info",
			LogFormat: "json",
			PIDFile:   "./data/relaygw.pid",
		},
		Child: ChildConfig{
			EnvAllow:       []string{"PATH", "HOME"},
			ReadyMarker:    "Server connected and ready!",
			ReadyMethod:    "notifications/ready",
			RestartBackoff: 5 * time.Second,
			StopGrace:      5 * time.Second,
		},
		HTTP: HTTPConfig{
			Listen:         "127.0.0.1:3000",
			RequestTimeout: 60 * time.Second,
			AllowedOrigins: []string{"*"},
			Metrics:        true,
		},
		Stdio: StdioConfig{
			RequestTimeout: 30 * time.Second,
		},
	}
}
