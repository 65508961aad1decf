package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/vk/testprojbuilds/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// usageError marks a bad invocation.
func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

const longHelp = `Configure, build and test a CMake project under a set of named build types
on a named machine.

Build types are given as positional arguments by short name; without any,
every build type marked on_by_default is run. Machines, build types and their
cmake arguments are read from the HCL and YAML files in the config directory.

Examples:
  tpb -m mappy                       run the default builds
  tpb -m mappy -p dbg sp             run two builds in parallel
  tpb -m mappy -g -b AUTO            regenerate baselines in the machine's dir
  tpb -m mappy -b ~/baselines -s     test against baselines, then submit`

type flags struct {
	submit, parallel, generate bool
	noBuild, noRun, quickRerun bool
	verbose                    bool

	machine     string
	baselineDir string
	workDir     string
	rootDir     string
	configDir   string
	cmakeArgs   []string
	testRegex   string
	testLabels  string
	logLevel    string
	logFormat   string
	statusPort  int
	eventsURL   string
	eventsNsp   string
	eventsTLS   bool
}

func (f *flags) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&f.submit, "submit", "s", false, "Submit results to the dashboard after the run.")
	fs.BoolVarP(&f.parallel, "parallel", "p", false, "Run the builds concurrently, each with its own slice of the machine.")
	fs.BoolVarP(&f.generate, "generate", "g", false, "Regenerate baselines instead of testing against them.")
	fs.StringVarP(&f.baselineDir, "baseline-dir", "b", "", "Baseline directory, or AUTO for the machine's own.")
	fs.StringVarP(&f.machine, "machine", "m", "", "Name of the machine to run on.")
	fs.StringArrayVarP(&f.cmakeArgs, "cmake-args", "c", nil, "Extra cmake option as NAME=VALUE. Repeatable.")
	fs.StringVarP(&f.workDir, "work-dir", "w", "", "Directory holding the build directories (default <cwd>/ctest-build).")
	fs.StringVarP(&f.rootDir, "root-dir", "r", "", "Root of the source tree (default <cwd>).")
	fs.StringVar(&f.configDir, "config-dir", "", "Directory with machine and build definitions (default <root>/scripts).")
	fs.BoolVar(&f.noBuild, "no-build", false, "Stop after the configure phase.")
	fs.BoolVar(&f.noRun, "no-run", false, "Stop after the build phase.")
	fs.BoolVar(&f.quickRerun, "quick-rerun", false, "Reuse an existing configure step when possible.")
	fs.StringVarP(&f.testRegex, "test-regex", "R", "", "Only run tests matching this regex.")
	fs.StringVarP(&f.testLabels, "test-labels", "L", "", "Only run tests with these labels.")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Echo command output and log at debug level.")
	fs.StringVar(&f.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fs.StringVar(&f.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	fs.IntVar(&f.statusPort, "status-port", 0, "Port for the HTTP status server. 0 is disabled.")
	fs.StringVar(&f.eventsURL, "events-url", "", "socket.io server receiving live events. Empty is disabled.")
	fs.StringVar(&f.eventsNsp, "events-namespace", "/", "socket.io namespace for live events.")
	fs.BoolVar(&f.eventsTLS, "events-insecure", false, "Skip TLS certificate verification for --events-url.")
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")

	var (
		f      flags
		config *app.Config
	)
	cmd := &cobra.Command{
		Use:           "tpb [flags] [BUILD_TYPE...]",
		Short:         "Build and test a CMake project under several build types.",
		Long:          longHelp,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, builds []string) error {
			cfg, err := f.toConfig(builds)
			if err != nil {
				return err
			}
			config = cfg
			return nil
		},
	}
	if args == nil {
		// cobra falls back to os.Args on nil.
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.SetOut(output)
	cmd.SetErr(output)
	f.register(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return nil, false, exitErr
		}
		return nil, false, usageError("%s", err.Error())
	}
	if config == nil {
		// Help was requested and printed.
		return nil, true, nil
	}

	slog.Debug("CLI parser finished successfully.", "machine", config.Machine, "builds", config.Builds)
	return config, false, nil
}

func (f *flags) toConfig(builds []string) (*app.Config, error) {
	if f.machine == "" {
		return nil, usageError("a machine is required: pass --machine NAME")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("cannot determine the working directory: %w", err)
	}
	rootDir := f.rootDir
	if rootDir == "" {
		rootDir = cwd
	}
	workDir := f.workDir
	if workDir == "" {
		workDir = filepath.Join(cwd, "ctest-build")
	}

	config, err := app.NewConfig(app.Config{
		Machine:     f.machine,
		Builds:      builds,
		Submit:      f.submit,
		Parallel:    f.parallel,
		Generate:    f.generate,
		NoBuild:     f.noBuild,
		NoRun:       f.noRun,
		QuickRerun:  f.quickRerun,
		BaselineDir: f.baselineDir,
		RootDir:     rootDir,
		WorkDir:     workDir,
		ConfigDir:   f.configDir,
		CMakeArgs:   f.cmakeArgs,
		TestRegex:   f.testRegex,
		TestLabels:  f.testLabels,
		Verbose:     f.verbose,
		LogLevel:    strings.ToLower(f.logLevel),
		LogFormat:   strings.ToLower(f.logFormat),
		StatusPort:  f.statusPort,
		EventsURL:   f.eventsURL,

		EventsNamespace: f.eventsNsp,
		EventsInsecure:  f.eventsTLS,
	})
	if err != nil {
		return nil, usageError("%s", err.Error())
	}
	return config, nil
}
