package orchestrator

import (
	"io"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/vk/testprojbuilds/internal/config"
	"github.com/vk/testprojbuilds/internal/model"
)

// AutoBaselineDir selects the machine's own baseline directory.
const AutoBaselineDir = "AUTO"

// Options are the user's choices for one run.
type Options struct {
	Machine string
	// Builds are requested short names; empty selects the default builds.
	Builds []string

	Submit     bool
	Parallel   bool
	Generate   bool
	NoBuild    bool
	NoRun      bool
	QuickRerun bool

	// BaselineDir is a path, AutoBaselineDir, or empty for none.
	BaselineDir string
	RootDir     string
	WorkDir     string

	CMakeOverrides []model.Option
	TestRegex      string
	TestLabels     string

	// Output mirrors command output when set. Report receives the summary.
	Output io.Writer
	Report io.Writer
}

// validate rejects incompatible settings. It runs before anything is
// resolved.
func (o *Options) validate() error {
	if o.Machine == "" {
		return config.Errorf("a machine name is required")
	}
	if o.Submit && o.Generate {
		return config.Errorf("cannot submit results while generating baselines")
	}
	if o.Generate {
		if o.BaselineDir == "" {
			return config.Errorf("cannot generate baselines without a baseline directory")
		}
		if o.NoBuild || o.NoRun {
			return config.Errorf("cannot generate baselines with --no-build or --no-run")
		}
	}
	if o.RootDir == "" || o.WorkDir == "" {
		return config.Errorf("root and work directories are required")
	}
	return nil
}

// absPath expands ~ and makes p absolute and clean.
func absPath(p string) (string, error) {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

// resolveBaselineDir turns the requested baseline directory into an absolute
// path, or "" when the run has none. It must differ from the work directory.
func (o *Options) resolveBaselineDir(machine *model.Machine, workDir string) (string, error) {
	dir := o.BaselineDir
	if dir == "" {
		return "", nil
	}
	if dir == AutoBaselineDir {
		if machine.BaselinesDir == "" {
			return "", config.Errorf("baseline directory AUTO requested, but machine %q has no baselines_dir", machine.Name)
		}
		dir = machine.BaselinesDir
	}
	abs, err := absPath(dir)
	if err != nil {
		return "", config.Errorf("invalid baseline directory %q: %w", dir, err)
	}
	if abs == workDir {
		return "", config.Errorf("for your safety, do NOT use the work dir to store baselines; use a different one (a subdirectory works too)")
	}
	return abs, nil
}
