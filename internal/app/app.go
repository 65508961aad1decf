package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/testprojbuilds/internal/config"
	"github.com/vk/testprojbuilds/internal/ctxlog"
	"github.com/vk/testprojbuilds/internal/events"
	hclloader "github.com/vk/testprojbuilds/internal/hcl"
	"github.com/vk/testprojbuilds/internal/resources"
	"github.com/vk/testprojbuilds/internal/shell"
	"github.com/vk/testprojbuilds/internal/yamlconfig"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	ctx        context.Context
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	board      *events.Board
	httpServer *http.Server

	loaders  []config.Loader
	shell    shell.Runner
	affinity resources.AffinityFunc
}

// Option customizes an App; tests use it to replace the outside world.
type Option func(*App)

// WithShell replaces the command runner.
func WithShell(r shell.Runner) Option {
	return func(a *App) { a.shell = r }
}

// WithAffinity replaces CPU affinity detection.
func WithAffinity(f resources.AffinityFunc) Option {
	return func(a *App) { a.affinity = f }
}

// WithLoaders replaces the configuration loaders.
func WithLoaders(loaders ...config.Loader) Option {
	return func(a *App) { a.loaders = loaders }
}

// NewApp is the constructor for the main application. It returns an App with
// its own isolated logger; nothing is loaded until Run.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	a := &App{
		ctx:      ctxlog.WithLogger(context.Background(), logger),
		outW:     outW,
		logger:   logger,
		config:   cfg,
		board:    events.NewBoard(),
		loaders:  []config.Loader{hclloader.NewLoader(), yamlconfig.NewLoader()},
		shell:    shell.NewExec(),
		affinity: resources.AvailableCPUs,
	}
	for _, opt := range opts {
		opt(a)
	}
	logger.Debug("Logger configured successfully.")
	return a
}

// Board returns the live status board. This is primarily for testing.
func (a *App) Board() *events.Board {
	return a.board
}
