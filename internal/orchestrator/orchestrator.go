// Package orchestrator coordinates a whole run: it resolves the machine and
// the variants, checks baselines, partitions resources, dispatches one runner
// per variant and aggregates their results.
//
// Configuration and precondition errors are returned before any variant
// starts. Once dispatch begins, failures stay scoped to their variant and
// only show up in the aggregated result.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/vk/testprojbuilds/internal/baseline"
	"github.com/vk/testprojbuilds/internal/config"
	"github.com/vk/testprojbuilds/internal/ctxlog"
	"github.com/vk/testprojbuilds/internal/events"
	"github.com/vk/testprojbuilds/internal/model"
	"github.com/vk/testprojbuilds/internal/registry"
	"github.com/vk/testprojbuilds/internal/resources"
	"github.com/vk/testprojbuilds/internal/runner"
	"github.com/vk/testprojbuilds/internal/shell"
	"golang.org/x/sync/errgroup"
)

// Repo reports the commit of the source tree under test.
type Repo interface {
	CurrentSHA(ctx context.Context, short bool) (string, error)
	CurrentRef(ctx context.Context) (string, error)
}

// Deps are the collaborators of a run.
type Deps struct {
	Registry *registry.Registry
	Shell    shell.Runner
	Affinity resources.AffinityFunc
	Repo     Repo
	Events   events.Publisher
}

// Orchestrator runs the selected variants once.
type Orchestrator struct {
	opts Options
	deps Deps
}

func New(opts Options, deps Deps) *Orchestrator {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if opts.Report == nil {
		opts.Report = io.Discard
	}
	return &Orchestrator{opts: opts, deps: deps}
}

// Summary is the aggregated outcome of a run.
type Summary struct {
	Success bool
	Results []model.RunResult
	// SubmitFailed is set when the post-run submission failed.
	SubmitFailed bool
}

// Run executes the run and reports whether every variant, and the submission
// when requested, succeeded.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	logger := ctxlog.FromContext(ctx)

	if err := o.opts.validate(); err != nil {
		return nil, err
	}

	reg := o.deps.Registry
	project := reg.Project()
	if o.opts.Submit && project.SubmitCommand == "" {
		return nil, config.Errorf("cannot submit: project %q has no submit_command", project.Name)
	}
	machine, err := reg.Machine(ctx, o.opts.Machine)
	if err != nil {
		return nil, err
	}
	variants, err := reg.Variants(ctx, project, machine, o.opts.Builds, o.opts.Generate)
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, config.Errorf("no builds selected to run")
	}

	rootDir, err := absPath(o.opts.RootDir)
	if err != nil {
		return nil, config.Errorf("invalid root directory: %w", err)
	}
	workDir, err := absPath(o.opts.WorkDir)
	if err != nil {
		return nil, config.Errorf("invalid work directory: %w", err)
	}
	baselineDir, err := o.opts.resolveBaselineDir(machine, workDir)
	if err != nil {
		return nil, err
	}

	var baselines *baseline.Manager
	if baselineDir != "" {
		baselines = baseline.NewManager(baselineDir)
		if o.opts.Generate {
			missing := baselines.CheckPresent(ctx, variants)
			logger.Info("Regenerating baselines.", "dir", baselineDir, "previously_missing", len(missing))
		} else if err := baselines.RequirePresent(ctx, variants); err != nil {
			return nil, err
		}
	}

	commit := o.logRevision(ctx)

	if err := resources.Partition(variants, machine.NumBuildResources, machine.NumTestResources, o.opts.Parallel); err != nil {
		return nil, err
	}
	pool := resources.NewPool(machine, variants, o.opts.Parallel, o.deps.Affinity)
	if err := o.checkSlices(pool, variants); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}

	run := runner.New(runner.Config{
		Project:    project,
		Machine:    machine,
		Pool:       pool,
		Shell:      o.deps.Shell,
		Baselines:  baselines,
		Events:     o.deps.Events,
		Commit:     commit,
		RootDir:    rootDir,
		WorkDir:    workDir,
		Generate:   o.opts.Generate,
		Parallel:   o.opts.Parallel,
		NoBuild:    o.opts.NoBuild,
		NoRun:      o.opts.NoRun,
		QuickRerun: o.opts.QuickRerun,
		TestRegex:  o.opts.TestRegex,
		TestLabels: o.opts.TestLabels,
		Overrides:  o.opts.CMakeOverrides,
		Output:     o.opts.Output,
	})

	results := o.dispatch(ctx, run, variants)

	summary := &Summary{Success: true, Results: results}
	for _, r := range results {
		summary.Success = summary.Success && r.Success
	}
	PrintSummary(o.opts.Report, results)

	if o.opts.Submit {
		if err := o.submit(ctx, project, machine, workDir); err != nil {
			logger.Error("Submitting results failed.", "error", err)
			summary.SubmitFailed = true
			summary.Success = false
		}
	}
	return summary, nil
}

// dispatch runs one task per variant, all at once in parallel mode and one
// at a time otherwise. Each task writes only its own slot, and the slice is
// read after every task has joined.
func (o *Orchestrator) dispatch(ctx context.Context, run *runner.Runner, variants []*model.BuildVariant) []model.RunResult {
	logger := ctxlog.FromContext(ctx)
	results := make([]model.RunResult, len(variants))

	var g errgroup.Group
	if !o.opts.Parallel {
		g.SetLimit(1)
	}
	for i, v := range variants {
		logger.Info("Dispatching variant.", "variant", v.ShortName,
			"build_resources", v.BuildResourceCount, "test_resources", v.TestResourceCount)
		g.Go(func() error {
			results[i] = run.Run(ctx, v)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// checkSlices resolves every identifier slice the run will need so that a
// count/affinity mismatch fails the whole run before anything starts.
func (o *Orchestrator) checkSlices(pool *resources.Pool, variants []*model.BuildVariant) error {
	if o.opts.NoBuild {
		return nil
	}
	for _, v := range variants {
		if o.opts.Parallel {
			if _, err := pool.ResourcesFor(v, model.PhaseBuild); err != nil {
				return err
			}
		}
		if !o.opts.NoRun {
			if _, err := pool.ResourcesFor(v, model.PhaseTest); err != nil {
				return err
			}
		}
	}
	return nil
}

// logRevision logs the ref and commit being tested and returns the commit.
// A tree that is not a git checkout only costs a warning.
func (o *Orchestrator) logRevision(ctx context.Context) string {
	logger := ctxlog.FromContext(ctx)
	if o.deps.Repo == nil {
		return ""
	}
	sha, err := o.deps.Repo.CurrentSHA(ctx, false)
	if err != nil {
		logger.Warn("Getting current commit failed.", "error", err)
		return ""
	}
	ref, err := o.deps.Repo.CurrentRef(ctx)
	if err != nil {
		logger.Warn("Getting current ref failed.", "error", err)
	}
	if o.opts.Generate {
		logger.Info("Generating baselines.", "ref", ref, "sha", sha)
	} else {
		logger.Info("Running tests.", "ref", ref, "sha", sha)
	}
	return sha
}

// submit runs the project's reporting command once for the whole run.
func (o *Orchestrator) submit(ctx context.Context, project *model.Project, machine *model.Machine, workDir string) error {
	ctxlog.FromContext(ctx).Info("Submitting results.", "cmd", project.SubmitCommand)
	code, err := o.deps.Shell.Run(ctx, shell.Command{
		Line:     project.SubmitCommand,
		Dir:      workDir,
		EnvSetup: machine.EnvSetup,
		Tee:      o.opts.Output,
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("submit command exited with code %d", code)
	}
	return nil
}
