package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/GoCodeAlone/shelf"
	"github.com/GoCodeAlone/shelf/config"
	"github.com/GoCodeAlone/shelf/rest"
)

// globalFlags are accepted by every command.
type globalFlags struct {
	configPath string
	apiRoot    string
	token      string
	logLevel   string
}

func addGlobalFlags(fs *flag.FlagSet) *globalFlags {
	g := &globalFlags{}
	fs.StringVar(&g.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&g.apiRoot, "api-root", "", "API root URL")
	fs.StringVar(&g.token, "token", "", "Session token")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	return g
}

// load builds the effective configuration: defaults, then the file, then
// the environment, then flags.
func (g *globalFlags) load() (*config.Config, error) {
	var cfg *config.Config
	if g.configPath != "" {
		loaded, err := config.Load(g.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		cfg.ApplyEnv(os.LookupEnv)
	}
	if g.apiRoot != "" {
		cfg.APIRoot = g.apiRoot
	}
	if g.token != "" {
		cfg.Token = g.token
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newClient returns a REST client for commands that do not need plugins.
func newClient(cfg *config.Config, logger *slog.Logger) *rest.Client {
	return rest.New(cfg.APIRoot, shelf.ClientOptions(cfg, logger)...)
}

func newApp(cfg *config.Config) (*shelf.App, error) {
	return shelf.New(cfg, shelf.WithLogger(newLogger(cfg.Log)))
}

// startApp assembles and starts the full client.
func startApp(ctx context.Context, g *globalFlags) (*shelf.App, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	app, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
