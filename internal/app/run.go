package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vk/testprojbuilds/internal/ctxlog"
	"github.com/vk/testprojbuilds/internal/events"
	"github.com/vk/testprojbuilds/internal/gitinfo"
	"github.com/vk/testprojbuilds/internal/orchestrator"
	"github.com/vk/testprojbuilds/internal/registry"
	"github.com/vk/testprojbuilds/internal/resources"
)

const eventsConnectTimeout = 10 * time.Second

func (a *App) socketIOOptions() events.SocketIOOptions {
	return events.SocketIOOptions{
		URL:                a.config.EventsURL,
		Namespace:          a.config.EventsNamespace,
		InsecureSkipVerify: a.config.EventsInsecure,
		ConnectTimeout:     eventsConnectTimeout,
	}
}

// Run executes one run and reports whether it succeeded. An error means the
// run could not start; a false result means a variant or the submission
// failed.
func (a *App) Run(ctx context.Context) (bool, error) {
	runID := uuid.NewString()
	logger := a.logger.With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)
	a.ctx = ctx
	logger.Debug("App.Run method started.")

	cfgModel, err := registry.Load(ctx, a.loaders, a.config.ConfigDir)
	if err != nil {
		return false, fmt.Errorf("failed to load configuration: %w", err)
	}
	reg, err := registry.New(ctx, cfgModel, resources.CPUCount(a.affinity))
	if err != nil {
		return false, err
	}
	logger.Debug("Registry ready.", "machines", reg.MachineNames(), "builds", reg.BuildNames())

	publisher := events.Publisher(a.board)
	if a.config.EventsURL != "" {
		remote, closeRemote := events.ConnectOrNop(ctx, a.socketIOOptions())
		defer closeRemote()
		publisher = events.Multi{a.board, remote}
	}

	a.statusServer()
	defer func() {
		if err := a.closeStatusServer(); err != nil {
			logger.Warn("Status server did not shut down cleanly.", "error", err)
		}
	}()

	opts := orchestrator.Options{
		Machine:        a.config.Machine,
		Builds:         a.config.Builds,
		Submit:         a.config.Submit,
		Parallel:       a.config.Parallel,
		Generate:       a.config.Generate,
		NoBuild:        a.config.NoBuild,
		NoRun:          a.config.NoRun,
		QuickRerun:     a.config.QuickRerun,
		BaselineDir:    a.config.BaselineDir,
		RootDir:        a.config.RootDir,
		WorkDir:        a.config.WorkDir,
		CMakeOverrides: a.config.Overrides,
		TestRegex:      a.config.TestRegex,
		TestLabels:     a.config.TestLabels,
		Report:         a.outW,
	}
	if a.config.Verbose {
		opts.Output = a.outW
	}
	deps := orchestrator.Deps{
		Registry: reg,
		Shell:    a.shell,
		Affinity: a.affinity,
		Repo:     gitinfo.New(a.config.RootDir, a.shell),
		Events:   events.WithRunID(runID, publisher),
	}

	logger.Info("🚀 Starting run.", "machine", a.config.Machine, "parallel", a.config.Parallel, "generate", a.config.Generate)
	summary, err := orchestrator.New(opts, deps).Run(ctx)
	if err != nil {
		return false, err
	}
	if summary.Success {
		logger.Info("🏁 Run finished.", "variants", len(summary.Results))
	} else {
		logger.Error("Run finished with failures.", "variants", len(summary.Results), "submit_failed", summary.SubmitFailed)
	}
	logger.Debug("App.Run method finished.")
	return summary.Success, nil
}
