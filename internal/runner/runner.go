package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/testprojbuilds/internal/baseline"
	"github.com/vk/testprojbuilds/internal/ctxlog"
	"github.com/vk/testprojbuilds/internal/events"
	"github.com/vk/testprojbuilds/internal/model"
	"github.com/vk/testprojbuilds/internal/resources"
	"github.com/vk/testprojbuilds/internal/shell"
)

const (
	cacheFile = "CMakeCache.txt"

	// MaxExcerptBytes bounds the log text carried in a result; longer logs
	// keep their tail.
	MaxExcerptBytes = 64 << 10
)

// Config is shared by the runners of one orchestration run.
type Config struct {
	Project *model.Project
	Machine *model.Machine
	Pool    *resources.Pool
	Shell   shell.Runner
	// Baselines is nil when the run has no baseline directory.
	Baselines *baseline.Manager
	Events    events.Publisher
	// Commit is recorded as the provenance of generated baselines.
	Commit string

	RootDir string
	WorkDir string

	Generate   bool
	Parallel   bool
	NoBuild    bool
	NoRun      bool
	QuickRerun bool
	TestRegex  string
	TestLabels string
	// Overrides are user-supplied options appended after everything else.
	Overrides []model.Option

	// Output, when set, mirrors every command's output.
	Output io.Writer
}

// Runner executes variants. It is safe for concurrent use on distinct
// variants.
type Runner struct {
	cfg Config
}

func New(cfg Config) *Runner {
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	return &Runner{cfg: cfg}
}

// BuildDir is the variant's private build directory.
func (r *Runner) BuildDir(v *model.BuildVariant) string {
	return filepath.Join(r.cfg.WorkDir, v.LongName)
}

// Run drives the variant to a terminal state. Phase failures are reported in
// the result, never as a panic or error.
func (r *Runner) Run(ctx context.Context, v *model.BuildVariant) model.RunResult {
	ctx, logger := ctxlog.With(ctx, "variant", v.ShortName)
	start := time.Now()

	res := r.run(ctx, v)
	res.Variant = v
	res.Duration = time.Since(start)

	if res.Success {
		logger.Info("Variant succeeded.", "duration", res.Duration)
	} else {
		logger.Error("Variant failed.", "phase", res.FailurePhase, "duration", res.Duration)
	}

	ev := events.Event{
		Variant: v.ShortName,
		State:   model.StateDone.String(),
		Phase:   res.FailurePhase,
		Final:   true,
		Success: res.Success,
	}
	if !res.Success {
		ev.State = model.StateAborted.String()
		ev.Message = failureMessage(v, res.FailurePhase)
	}
	r.cfg.Events.Publish(ctx, ev)
	return res
}

// failureMessage names the failed phase and the log that explains it.
func failureMessage(v *model.BuildVariant, phase model.Phase) string {
	msg := fmt.Sprintf("Build type %s failed at %s time.", v.LongName, phase)
	if log := phase.LogFile(); log != "" {
		msg += " See " + log + "."
	}
	return msg
}

func (r *Runner) run(ctx context.Context, v *model.BuildVariant) model.RunResult {
	logger := ctxlog.FromContext(ctx)
	dir := r.BuildDir(v)
	r.transition(ctx, v, model.StateInit)

	if err := r.prepareDir(dir); err != nil {
		return r.abort(ctx, v, model.PhaseConfig, err.Error())
	}

	if r.reusable(dir) {
		logger.Info("Reusing configured build directory, skipping configure.", "dir", dir)
	} else {
		r.transition(ctx, v, model.StateConfiguring)
		if res, ok := r.exec(ctx, v, model.PhaseConfig, r.configureLine(v)); !ok {
			return res
		}
	}

	if r.cfg.NoBuild {
		return model.RunResult{Success: true, FailurePhase: model.PhaseNone}
	}

	r.transition(ctx, v, model.StateBuilding)
	var pin []int
	if r.cfg.Parallel {
		ids, err := r.cfg.Pool.ResourcesFor(v, model.PhaseBuild)
		if err != nil {
			return r.abort(ctx, v, model.PhaseBuild, err.Error())
		}
		pin = ids
	}
	if res, ok := r.exec(ctx, v, model.PhaseBuild, buildLine(v.BuildResourceCount, pin)); !ok {
		return res
	}

	if r.cfg.NoRun {
		return model.RunResult{Success: true, FailurePhase: model.PhaseNone}
	}

	if r.cfg.Generate {
		r.transition(ctx, v, model.StateGeneratingBaselines)
	} else {
		r.transition(ctx, v, model.StateTesting)
	}
	ids, err := r.cfg.Pool.ResourcesFor(v, model.PhaseTest)
	if err != nil {
		return r.abort(ctx, v, model.PhaseTest, err.Error())
	}
	specFile, err := resources.WriteSpecFile(dir, ids)
	if err != nil {
		return r.abort(ctx, v, model.PhaseTest, err.Error())
	}
	if res, ok := r.exec(ctx, v, model.PhaseTest, r.testLine(v, specFile)); !ok {
		return res
	}

	if r.cfg.Generate {
		if err := r.finishGeneration(ctx, v, dir); err != nil {
			return r.abort(ctx, v, model.PhaseTest, err.Error())
		}
	}

	return model.RunResult{Success: true, FailurePhase: model.PhaseNone}
}

// prepareDir gives generation a fresh directory. Test runs keep the
// directory but drop cmake's cache unless it is being reused.
func (r *Runner) prepareDir(dir string) error {
	if r.cfg.Generate {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("cleaning build directory: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating build directory: %w", err)
	}
	if r.cfg.Generate || r.reusable(dir) {
		return nil
	}
	return purgeCMakeFiles(dir)
}

// reusable reports whether quick rerun applies to dir.
func (r *Runner) reusable(dir string) bool {
	if !r.cfg.QuickRerun || r.cfg.Generate {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, cacheFile))
	return err == nil && info.Mode().IsRegular()
}

// purgeCMakeFiles removes cmake's cache and internal files left by a previous
// run so that changed cache variables are picked up.
func purgeCMakeFiles(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "CMake*"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			return fmt.Errorf("purging %s: %w", m, err)
		}
	}
	return nil
}

func (r *Runner) finishGeneration(ctx context.Context, v *model.BuildVariant, dir string) error {
	logger := ctxlog.FromContext(ctx)
	if r.cfg.Baselines == nil {
		return errors.New("baseline generation requires a baseline directory")
	}

	if manifest := r.cfg.Project.BaselinesSummaryFile; manifest != "" {
		if _, err := r.cfg.Baselines.CollectGeneratedFiles(ctx, v, dir, manifest); err != nil {
			return err
		}
	}
	if err := r.cfg.Baselines.RecordGeneration(ctx, v, r.cfg.Commit); err != nil {
		logger.Warn("Could not record baseline provenance.", "error", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("Could not remove build directory after generation.", "dir", dir, "error", err)
	}
	return nil
}

// exec runs one phase command. On failure it returns the aborted result and
// false.
func (r *Runner) exec(ctx context.Context, v *model.BuildVariant, phase model.Phase, line string) (model.RunResult, bool) {
	logger := ctxlog.FromContext(ctx)
	dir := r.BuildDir(v)
	logger.Info("Running phase.", "phase", phase, "cmd", line)

	code, err := r.cfg.Shell.Run(ctx, shell.Command{
		Line:     line,
		Dir:      dir,
		EnvSetup: r.cfg.Machine.EnvSetup,
		LogPath:  filepath.Join(dir, phase.LogFile()),
		Tee:      r.cfg.Output,
	})
	if err != nil {
		return r.abort(ctx, v, phase, err.Error()), false
	}
	if code != 0 {
		logger.Warn("Phase failed.", "phase", phase, "exit_code", code)
		return r.abort(ctx, v, phase, ""), false
	}
	return model.RunResult{}, true
}

// abort ends the variant in the given phase. The excerpt is the phase log
// when one exists; detail is appended to it. The aborted state itself is
// published by Run with the final result.
func (r *Runner) abort(ctx context.Context, v *model.BuildVariant, phase model.Phase, detail string) model.RunResult {
	excerpt := readExcerpt(filepath.Join(r.BuildDir(v), phase.LogFile()))
	switch {
	case excerpt == "" && detail == "":
		excerpt = fmt.Sprintf("Build type %s failed at %s time, and no log was produced.", v.LongName, phase)
	case detail != "" && excerpt != "":
		excerpt = excerpt + "\n" + detail
	case detail != "":
		excerpt = detail
	}
	return model.RunResult{Success: false, FailurePhase: phase, LogExcerpt: excerpt}
}

func (r *Runner) transition(ctx context.Context, v *model.BuildVariant, s model.State) {
	ctxlog.FromContext(ctx).Debug("State transition.", "state", s.String())
	r.cfg.Events.Publish(ctx, events.Event{Variant: v.ShortName, State: s.String(), Phase: s.Phase()})
}

func readExcerpt(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	prefix := ""
	if size := info.Size(); size > MaxExcerptBytes {
		if _, err := f.Seek(size-MaxExcerptBytes, io.SeekStart); err != nil {
			return ""
		}
		prefix = fmt.Sprintf("... (%d bytes truncated)\n", size-MaxExcerptBytes)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	return prefix + string(data)
}
