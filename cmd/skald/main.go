// Skald is a conversational agent daemon for a browser-based UI.
//
// It exposes an HTTP API for chat submission, conversation history,
// transcript export, and a WebSocket feed of agent lifecycle events.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	skald serve              Start the API server
//	skald init [dir]         Initialize a working directory with defaults
//	skald ask <question>     Ask a single question (for testing)
//	skald version            Print version and build information
//	skald -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/skald-ai/skald/internal/agent"
	"github.com/skald-ai/skald/internal/api"
	"github.com/skald-ai/skald/internal/buildinfo"
	"github.com/skald-ai/skald/internal/config"
	"github.com/skald-ai/skald/internal/llm"
	"github.com/skald-ai/skald/internal/memory"
	"github.com/skald-ai/skald/internal/settings"
	"github.com/skald-ai/skald/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the skald command. All OS-level
// dependencies are injected as parameters so the lifecycle can be
// driven from tests. Arguments are parsed by hand: the flag package
// relies on package-level globals (flag.CommandLine), which makes it
// impossible to call run() concurrently from tests, and our argument
// surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: skald ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// skald is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Skald - Conversational Agent Daemon")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: skald [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./skald.yaml, ~/.config/skald/skald.yaml, /etc/skald/skald.yaml")
	return nil
}

// buildComponents wires the agent stack from configuration. Shared by
// serve and ask so the two paths cannot drift.
func buildComponents(cfg *config.Config, logger *slog.Logger) (*llm.Client, *settings.Store, *tools.Registry, *tools.Dispatcher) {
	client := llm.NewClient(
		cfg.Gateway.BaseURL,
		cfg.Gateway.APIKey,
		cfg.Gateway.FlattenToolMessages,
		cfg.Gateway.RequestTimeout(),
		logger,
	)

	settingsPath := filepath.Join(cfg.DataDir, "settings.yaml")
	st, err := settings.Load(settingsPath, settings.Settings{
		Model:       cfg.Gateway.Model,
		BaseURL:     cfg.Gateway.BaseURL,
		APIKey:      cfg.Gateway.APIKey,
		Temperature: cfg.Gateway.Temperature,
		MaxTokens:   cfg.Gateway.MaxTokens,
	})
	if err != nil {
		logger.Warn("settings load failed, using config defaults", "error", err)
		st = settings.NewStore(settings.Settings{
			Model:       cfg.Gateway.Model,
			BaseURL:     cfg.Gateway.BaseURL,
			APIKey:      cfg.Gateway.APIKey,
			Temperature: cfg.Gateway.Temperature,
			MaxTokens:   cfg.Gateway.MaxTokens,
		}, settingsPath)
	}

	registry := tools.NewRegistry()
	dispatcher := tools.NewDispatcher(registry, cfg.Agent.ToolTimeout(), logger)
	return client, st, registry, dispatcher
}

func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Skald", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure logger now that we know the desired level and format.
	// The initial Info-level text logger only covers the startup banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by config.Validate().
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Gateway.Model,
		"gateway_url", cfg.Gateway.BaseURL,
	)

	if cfg.Gateway.APIKey == "" {
		logger.Warn("no API key configured, running in demo mode")
	}

	// All persistent state (conversations, runtime settings) lives
	// under the data directory.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := filepath.Join(cfg.DataDir, "skald.db")
	db, err := memory.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open conversation database %s: %w", dbPath, err)
	}
	defer db.Close()

	store, err := memory.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("init conversation store: %w", err)
	}
	logger.Info("conversation database opened", "path", dbPath)

	client, st, registry, dispatcher := buildComponents(cfg, logger)

	// Log runtime settings changes as they land. The agent loop reads
	// the store per turn, so the next completion already uses them.
	st.Subscribe(func(s settings.Settings) {
		logger.Info("settings updated",
			"model", s.Model,
			"temperature", s.Temperature,
			"max_tokens", s.MaxTokens,
			"api_key_set", s.APIKey != "",
		)
	})

	hub := api.NewHub(logger)

	loop := agent.NewLoop(agent.Config{
		Store:      store,
		Gateway:    client,
		Dispatcher: dispatcher,
		Registry:   registry,
		Options:    func() llm.Options { return st.Get().Options() },
		Listener:   hub.Listener(),
		MaxTurns:   cfg.Agent.MaxTurns,
		Logger:     logger,
	})

	server := api.NewServer(api.Config{
		Address:  cfg.Listen.Address,
		Port:     cfg.Listen.Port,
		Store:    store,
		Gateway:  client,
		Loop:     loop,
		Settings: st,
		Hub:      hub,
		Logger:   logger,
	})

	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Skald stopped")
	return nil
}

// runAsk handles the "skald ask <question>" subcommand. It boots a
// minimal agent (in-memory conversation store, no HTTP server) and
// processes a single question, printing the response to stdout. Useful
// for quick smoke tests without starting the daemon.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		// ask should work out of the box, demo mode included.
		cfg = config.Default()
	}

	store := memory.NewInMemoryStore()
	client, st, registry, dispatcher := buildComponents(cfg, logger)

	loop := agent.NewLoop(agent.Config{
		Store:      store,
		Gateway:    client,
		Dispatcher: dispatcher,
		Registry:   registry,
		Options:    func() llm.Options { return st.Get().Options() },
		MaxTurns:   cfg.Agent.MaxTurns,
		Logger:     logger,
	})

	const convID = "cli-test"
	if _, err := store.Append(convID, memory.Message{
		Role:    memory.RoleUser,
		Content: question,
	}); err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	if err := loop.Run(ctx, convID); err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	msgs, err := store.Messages(convID)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == memory.RoleAssistant && msgs[i].Content != "" {
			fmt.Fprintln(stdout, msgs[i].Content)
			return nil
		}
	}
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in Skald goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
