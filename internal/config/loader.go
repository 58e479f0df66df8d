package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory containing config.yaml.
// If a .checksums manifest sits next to the file, the file must match it.
func Load(configPath string) (*Config, error) {
	cfg, _, err := Read(configPath)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for tools that report problems
// themselves. It returns the resolved config file path.
func Read(configPath string) (*Config, string, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, "", err
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	if cfg.Child.Dir != "" && !filepath.IsAbs(cfg.Child.Dir) {
		cfg.Child.Dir = filepath.Join(filepath.Dir(absPath), cfg.Child.Dir)
	}
	return cfg, absPath, nil
}

// Parse decodes YAML over Defaults() after ${VAR} interpolation. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath returns the absolute config file path. A directory resolves to
// config.yaml inside it.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// Discover finds a config file by checking standard locations.
// Priority order: $RELAYGW_CONFIG, ./relaygw.yaml, ~/.config/relaygw/config.yaml, /etc/relaygw/config.yaml
func Discover() (string, error) {
	candidates := []string{}
	if p := os.Getenv("RELAYGW_CONFIG"); p != "" {
		candidates = append(candidates, p)
	}
	candidates = append(candidates, "./relaygw.yaml")
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "relaygw", "config.yaml"))
	}
	candidates = append(candidates, "/etc/relaygw/config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $RELAYGW_CONFIG, ./relaygw.yaml, ~/.config/relaygw/config.yaml, /etc/relaygw/config.yaml)")
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate checks a parsed configuration. A config used only for the
// upstream stdio relay does not need a child command.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Child.Command == "" && cfg.Stdio.Upstream == "" {
		errs = append(errs, errors.New("child.command is required (or set stdio.upstream)"))
	}
	if cfg.Child.Command != "" && cfg.Child.ReadyMarker == "" && cfg.Child.ReadyMethod == "" {
		errs = append(errs, errors.New("child: set ready_marker or ready_method (or both)"))
	}
	if cfg.Child.RestartBackoff <= 0 {
		errs = append(errs, errors.New("child.restart_backoff must be positive"))
	}
	if cfg.Child.StopGrace < 0 {
		errs = append(errs, errors.New("child.stop_grace must not be negative"))
	}
	for k, v := range cfg.Child.Env {
		if k == "" || strings.Contains(k, "=") {
			errs = append(errs, fmt.Errorf("child.env: invalid variable name %q", k))
		}
		if m := envVarPattern.FindStringSubmatch(v); m != nil {
			errs = append(errs, fmt.Errorf("child.env.%s: environment variable %s is not set", k, m[1]))
		}
	}

	if cfg.HTTP.RequestTimeout <= 0 {
		errs = append(errs, errors.New("http.request_timeout must be positive"))
	}
	if cfg.HTTP.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.HTTP.Listen); err != nil {
			errs = append(errs, fmt.Errorf("http.listen: %w", err))
		}
	}

	if cfg.Stdio.RequestTimeout <= 0 {
		errs = append(errs, errors.New("stdio.request_timeout must be positive"))
	}
	if cfg.Stdio.Upstream != "" {
		u, err := url.Parse(cfg.Stdio.Upstream)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("stdio.upstream: must be an http(s) URL, got %q", cfg.Stdio.Upstream))
		}
	}

	switch strings.ToLower(cfg.Service.LogFormat) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("service.log_format: unsupported format %q", cfg.Service.LogFormat))
	}

	return errors.Join(errs...)
}
