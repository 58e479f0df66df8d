package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mattjoyce/relaygw/internal/api"
	"github.com/mattjoyce/relaygw/internal/config"
	"github.com/mattjoyce/relaygw/internal/correlate"
	"github.com/mattjoyce/relaygw/internal/doctor"
	"github.com/mattjoyce/relaygw/internal/events"
	"github.com/mattjoyce/relaygw/internal/gateway"
	"github.com/mattjoyce/relaygw/internal/lock"
	"github.com/mattjoyce/relaygw/internal/log"
	"github.com/mattjoyce/relaygw/internal/metrics"
	"github.com/mattjoyce/relaygw/internal/stdio"
	"github.com/mattjoyce/relaygw/internal/supervisor"
	"github.com/mattjoyce/relaygw/internal/tui/watch"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "0.1.0"
	commit  = "dev"
)

const eventBuffer = 256

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "config":
		os.Exit(runConfigNoun(args))

	// --- VERBS ---
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			os.Exit(0)
		}
		os.Exit(runServe(args))
	case "stdio":
		if hasHelpFlag(args) {
			printStdioHelp()
			os.Exit(0)
		}
		os.Exit(runStdio(args))
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			os.Exit(0)
		}
		os.Exit(runWatch(args))
	case "doctor":
		os.Exit(runConfigCheck(args))
	case "version":
		fmt.Printf("relaygw version %s (%s)\n", version, commit)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`relaygw - JSON-RPC bridge in front of a supervised line-protocol child

Usage:
  relaygw <command> [flags]

Commands:
  serve             Supervise the child and serve POST /mcp and GET /health
  stdio             Relay JSON-RPC lines on stdin/stdout to the child (or an upstream bridge)
  watch             Live terminal view of a running bridge

Config Commands:
  config check      Validate configuration and report warnings
  config lock       Record the config file hash in .checksums

General:
  version           Show version information
  help              Show this help message

Use 'relaygw <command> --help' for command flags.
`)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: relaygw config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printServeHelp() {
	fmt.Println("Usage: relaygw serve [--config PATH] [--listen ADDR]")
	fmt.Println("Start the HTTP gateway and supervise the child in the foreground.")
}

func printStdioHelp() {
	fmt.Println("Usage: relaygw stdio [--config PATH] [--upstream URL]")
	fmt.Println("Bridge stdin/stdout JSON-RPC lines to the child. Logs go to stderr.")
}

func printWatchHelp() {
	fmt.Println("Usage: relaygw watch [--url URL]")
	fmt.Println("Show child lifecycle and request activity of a running bridge.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: relaygw config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration syntax, child command, and exposure.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: relaygw config lock [--config PATH] [--dry-run]")
	fmt.Println("Authorize the current config file by writing its BLAKE3 hash to .checksums.")
}

// --- ACTION IMPLEMENTATIONS ---

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	discovered, err := config.Discover()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func loadConfig(configPath string) (*config.Config, string, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	listen := fs.String("listen", "", "Override http.listen")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}
	if cfg.Child.Command == "" {
		fmt.Fprintln(os.Stderr, "serve requires child.command")
		return 1
	}

	log.SetupWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stderr)
	logger := log.WithComponent("main")
	logger.Info("relaygw starting", "version", version, "config", path, "mode", "http")

	if cfg.Service.PIDFile != "" {
		pidLock, err := lock.AcquirePIDLock(cfg.Service.PIDFile)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", cfg.Service.PIDFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serveHTTP(ctx, cfg, logger); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("relaygw stopped")
	return 0
}

// serveHTTP runs the supervisor and the HTTP gateway until ctx is done.
func serveHTTP(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := events.NewHub(eventBuffer)
	sup := supervisor.New(cfg.Child, correlate.New(), hub)
	mux := gateway.NewMultiplexer(sup, gateway.MultiplexerOptions{Timeout: cfg.HTTP.RequestTimeout})

	apiConfig := api.Config{
		Listen:         cfg.HTTP.Listen,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}
	if cfg.HTTP.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics.Register(reg)
		metrics.SetBuildInfo(version, commit)
		apiConfig.Gatherer = reg
	}
	server := api.New(apiConfig, mux, sup, hub, log.WithComponent("api"))

	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(ctx) }()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("relaygw running (press Ctrl+C to stop)", "listen", cfg.HTTP.Listen)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-errCh:
		cancel()
	}

	if err := <-supDone; err != nil && runErr == nil {
		runErr = fmt.Errorf("supervisor: %w", err)
	}
	return runErr
}

func runStdio(args []string) int {
	fs := flag.NewFlagSet("stdio", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	upstream := fs.String("upstream", "", "Relay to a remote bridge's POST /mcp instead of a child")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *upstream != "" {
		cfg.Stdio.Upstream = *upstream
	}

	// stdout carries protocol frames; everything else goes to stderr.
	log.SetupWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stderr)
	logger := log.WithComponent("main")
	logger.Info("relaygw starting", "version", version, "config", path, "mode", "stdio")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serveStdio(ctx, cfg, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stdio bridge failed", "error", err)
		return 1
	}
	logger.Info("relaygw stopped")
	return 0
}

// serveStdio bridges in/out to either the remote upstream or a supervised
// child. It returns when in reaches EOF or ctx is done; a supervised child
// is stopped before returning.
func serveStdio(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	if cfg.Stdio.Upstream != "" {
		remote := gateway.NewRemote(cfg.Stdio.Upstream, cfg.Stdio.RequestTimeout)
		return stdio.New(remote, in, out, nil).Serve(ctx)
	}
	if cfg.Child.Command == "" {
		return errors.New("stdio requires child.command or stdio.upstream")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sup := supervisor.New(cfg.Child, correlate.New(), nil)
	mux := gateway.NewMultiplexer(sup, gateway.MultiplexerOptions{
		Timeout:     cfg.Stdio.RequestTimeout,
		PreserveIDs: true,
	})

	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(ctx) }()

	err := stdio.New(mux, in, out, nil).Serve(ctx)
	cancel()
	if supErr := <-supDone; supErr != nil && err == nil {
		err = supErr
	}
	return err
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	url := fs.String("url", "", "Bridge base URL (default http://<http.listen>)")
	configPath := fs.String("config", "", "Read http.listen from this configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	target := *url
	if target == "" {
		listen := config.Defaults().HTTP.Listen
		if *configPath != "" {
			cfg, err := config.Load(*configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
				return 1
			}
			listen = cfg.HTTP.Listen
		}
		target = "http://" + listen
	}

	p := tea.NewProgram(watch.New(target))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch failed: %v\n", err)
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, _, err := config.Read(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&dryRun, "dry-run", false, "Show the hash without writing .checksums")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	report, err := config.Lock(path, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config lock failed: %v\n", err)
		return 1
	}

	fmt.Printf("HASH %s: %s\n", report.ConfigPath, report.Hash)
	if report.Written {
		fmt.Printf("WROTE %s\n", report.ChecksumPath)
	} else {
		fmt.Printf("DRY-RUN %s: not written\n", report.ChecksumPath)
	}
	return 0
}
