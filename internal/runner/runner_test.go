package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/testprojbuilds/internal/baseline"
	"github.com/vk/testprojbuilds/internal/events"
	"github.com/vk/testprojbuilds/internal/model"
	"github.com/vk/testprojbuilds/internal/resources"
	"github.com/vk/testprojbuilds/internal/shell"
)

// fakeShell records commands and simulates cmake, make and ctest.
type fakeShell struct {
	mu       sync.Mutex
	commands []shell.Command
	codes    map[string]int
	hooks    map[string]func(cmd shell.Command)
}

func newFakeShell() *fakeShell {
	return &fakeShell{codes: map[string]int{}, hooks: map[string]func(shell.Command){}}
}

func toolOf(line string) string {
	switch {
	case strings.HasPrefix(line, "cmake"):
		return "cmake"
	case strings.Contains(line, "make -j"):
		return "make"
	case strings.HasPrefix(line, "ctest"):
		return "ctest"
	}
	return "other"
}

func (f *fakeShell) Run(_ context.Context, cmd shell.Command) (int, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()

	tool := toolOf(cmd.Line)
	code := f.codes[tool]
	if cmd.LogPath != "" {
		out := fmt.Sprintf("%s output\n", tool)
		if code != 0 {
			out += fmt.Sprintf("%s: error: something broke\n", tool)
		}
		if err := os.WriteFile(cmd.LogPath, []byte(out), 0o644); err != nil {
			return -1, err
		}
	}
	if tool == "cmake" && code == 0 {
		if err := os.WriteFile(filepath.Join(cmd.Dir, cacheFile), nil, 0o644); err != nil {
			return -1, err
		}
	}
	if hook := f.hooks[tool]; hook != nil && code == 0 {
		hook(cmd)
	}
	return code, nil
}

func (f *fakeShell) Output(context.Context, shell.Command) (string, error) {
	return "", nil
}

func (f *fakeShell) tools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.commands {
		out = append(out, toolOf(c.Line))
	}
	return out
}

func (f *fakeShell) line(tool string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if toolOf(c.Line) == tool {
			return c.Line
		}
	}
	return ""
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) states() []string {
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.State)
	}
	return out
}

type fixture struct {
	runner  *Runner
	shell   *fakeShell
	events  *recorder
	variant *model.BuildVariant
	cfg     Config
}

func newFixture(t *testing.T, mutate func(cfg *Config)) *fixture {
	t.Helper()
	v := model.NewBuildVariant("dbg", "full_debug")
	v.UsesBaselines = true
	v.CMakeArgs = []model.Option{{Name: "CMAKE_BUILD_TYPE", Value: "Debug"}}

	machine := &model.Machine{
		Name:              "mappy",
		NumBuildResources: 4,
		NumTestResources:  4,
		EnvSetup:          []string{"module load cmake"},
		CXXCompiler:       "mpicxx",
		BaselineGenLabel:  model.DefaultBaselineGenLabel,
	}
	fs := newFakeShell()
	rec := &recorder{}
	cfg := Config{
		Project: &model.Project{Name: "ekat", CMakeVarsPrefix: "EKAT"},
		Machine: machine,
		Shell:   fs,
		Events:  rec,
		Commit:  "abc123",
		RootDir: "/src/ekat",
		WorkDir: t.TempDir(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	vs := []*model.BuildVariant{v}
	require.NoError(t, resources.Partition(vs, machine.NumBuildResources, machine.NumTestResources, cfg.Parallel))
	cfg.Pool = resources.NewPool(machine, vs, cfg.Parallel, func() ([]int, error) { return []int{0, 1, 2, 3}, nil })

	return &fixture{runner: New(cfg), shell: fs, events: rec, variant: v, cfg: cfg}
}

func (f *fixture) buildDir() string {
	return f.runner.BuildDir(f.variant)
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t, nil)
	res := f.runner.Run(context.Background(), f.variant)

	require.True(t, res.Success, res.LogExcerpt)
	assert.Equal(t, model.PhaseNone, res.FailurePhase)
	assert.Same(t, f.variant, res.Variant)
	assert.Equal(t, []string{"cmake", "make", "ctest"}, f.shell.tools())
	assert.Equal(t, []string{"init", "configuring", "building", "testing", "done"}, f.events.states())
	assert.True(t, f.events.events[len(f.events.events)-1].Final)
	assert.Empty(t, f.events.events[len(f.events.events)-1].Message)

	for _, c := range f.shell.commands {
		assert.Equal(t, f.buildDir(), c.Dir)
		assert.Equal(t, []string{"module load cmake"}, c.EnvSetup)
	}
	for _, phase := range []model.Phase{model.PhaseConfig, model.PhaseBuild, model.PhaseTest} {
		assert.FileExists(t, filepath.Join(f.buildDir(), phase.LogFile()))
	}

	spec, err := resources.ReadSpecFile(filepath.Join(f.buildDir(), resources.SpecFileName))
	require.NoError(t, err)
	ids, err := spec.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, ids)
}

func TestRun_ConfigFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.shell.codes["cmake"] = 1

	res := f.runner.Run(context.Background(), f.variant)
	assert.False(t, res.Success)
	assert.Equal(t, model.PhaseConfig, res.FailurePhase)
	assert.Equal(t, []string{"cmake"}, f.shell.tools(), "build and test must never run")
	assert.Contains(t, res.LogExcerpt, "cmake: error: something broke")

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, "aborted", last.State)
	assert.Equal(t, model.PhaseConfig, last.Phase)
	assert.False(t, last.Success)
	assert.Equal(t, "Build type full_debug failed at config time. See LastConfig.log.", last.Message)
}

func TestRun_BuildAndTestFailures(t *testing.T) {
	tests := []struct {
		tool      string
		wantPhase model.Phase
		wantTools []string
	}{
		{tool: "make", wantPhase: model.PhaseBuild, wantTools: []string{"cmake", "make"}},
		{tool: "ctest", wantPhase: model.PhaseTest, wantTools: []string{"cmake", "make", "ctest"}},
	}
	for _, tc := range tests {
		t.Run(tc.tool, func(t *testing.T) {
			f := newFixture(t, nil)
			f.shell.codes[tc.tool] = 2

			res := f.runner.Run(context.Background(), f.variant)
			assert.False(t, res.Success)
			assert.Equal(t, tc.wantPhase, res.FailurePhase)
			assert.Equal(t, tc.wantTools, f.shell.tools())
			assert.Contains(t, res.LogExcerpt, tc.tool+": error")
		})
	}
}

func TestRun_NoBuildAndNoRun(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.NoBuild = true })
	res := f.runner.Run(context.Background(), f.variant)
	require.True(t, res.Success)
	assert.Equal(t, []string{"cmake"}, f.shell.tools())

	f = newFixture(t, func(cfg *Config) { cfg.NoRun = true })
	res = f.runner.Run(context.Background(), f.variant)
	require.True(t, res.Success)
	assert.Equal(t, []string{"cmake", "make"}, f.shell.tools())
}

func TestRun_PurgesStaleCache(t *testing.T) {
	f := newFixture(t, nil)
	dir := f.buildDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "CMakeFiles"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CMakeFiles", "stale"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.o"), nil, 0o644))

	res := f.runner.Run(context.Background(), f.variant)
	require.True(t, res.Success)
	assert.NoDirExists(t, filepath.Join(dir, "CMakeFiles"))
	assert.FileExists(t, filepath.Join(dir, "keep.o"))
	assert.Equal(t, "cmake", f.shell.tools()[0])
}

func TestRun_QuickRerun(t *testing.T) {
	t.Run("configured directory is reused", func(t *testing.T) {
		f := newFixture(t, func(cfg *Config) { cfg.QuickRerun = true })
		require.NoError(t, os.MkdirAll(f.buildDir(), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(f.buildDir(), cacheFile), []byte("cached"), 0o644))

		res := f.runner.Run(context.Background(), f.variant)
		require.True(t, res.Success)
		assert.Equal(t, []string{"make", "ctest"}, f.shell.tools())
		data, err := os.ReadFile(filepath.Join(f.buildDir(), cacheFile))
		require.NoError(t, err)
		assert.Equal(t, "cached", string(data), "cache must not be purged")
	})

	t.Run("fresh directory is configured", func(t *testing.T) {
		f := newFixture(t, func(cfg *Config) { cfg.QuickRerun = true })
		res := f.runner.Run(context.Background(), f.variant)
		require.True(t, res.Success)
		assert.Equal(t, []string{"cmake", "make", "ctest"}, f.shell.tools())
	})
}

func TestRun_ParallelBuildIsPinned(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Parallel = true })
	res := f.runner.Run(context.Background(), f.variant)
	require.True(t, res.Success)
	assert.Equal(t, "taskset -c 0,1,2,3 sh -c 'make -j4'", f.shell.line("make"))
}

func TestRun_SequentialBuildIsNotPinned(t *testing.T) {
	f := newFixture(t, nil)
	res := f.runner.Run(context.Background(), f.variant)
	require.True(t, res.Success)
	assert.Equal(t, "make -j4", f.shell.line("make"))
}

func TestRun_GenerateBaselines(t *testing.T) {
	baselineRoot := t.TempDir()
	f := newFixture(t, func(cfg *Config) {
		cfg.Generate = true
		cfg.Baselines = baseline.NewManager(baselineRoot)
		cfg.Project.BaselinesSummaryFile = "data/baseline_list"
	})
	f.variant.BaselinesMissing = true
	// The test run writes an output file and lists it in the manifest.
	f.shell.hooks["ctest"] = func(cmd shell.Command) {
		out := filepath.Join(cmd.Dir, "output.nc")
		require.NoError(t, os.WriteFile(out, []byte("ref"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(cmd.Dir, "data"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(cmd.Dir, "data", "baseline_list"), []byte(out+"\n\n"), 0o644))
	}

	res := f.runner.Run(context.Background(), f.variant)
	require.True(t, res.Success, res.LogExcerpt)
	assert.Equal(t, []string{"init", "configuring", "building", "generating_baselines", "done"}, f.events.states())

	assert.Contains(t, f.shell.line("cmake"), "-DEKAT_ONLY_GENERATE_BASELINES=ON")
	assert.Contains(t, f.shell.line("cmake"), fmt.Sprintf(`-DEKAT_BASELINES_DIR="%s"`, filepath.Join(baselineRoot, "full_debug")))
	assert.Contains(t, f.shell.line("ctest"), "-L baseline_gen")

	data, err := os.ReadFile(filepath.Join(baselineRoot, "full_debug", "data", "output.nc"))
	require.NoError(t, err)
	assert.Equal(t, "ref", string(data))

	sha, err := f.cfg.Baselines.Provenance(f.variant)
	require.NoError(t, err)
	assert.Equal(t, "abc123", sha)
	assert.False(t, f.variant.BaselinesMissing)
	assert.NoDirExists(t, f.buildDir(), "build directory is removed after generation")
}

func TestRun_GenerateWipesBuildDir(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Generate = true
		cfg.Baselines = baseline.NewManager(t.TempDir())
	})
	require.NoError(t, os.MkdirAll(f.buildDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.buildDir(), "old.o"), nil, 0o644))
	f.shell.hooks["cmake"] = func(cmd shell.Command) {
		_, err := os.Stat(filepath.Join(cmd.Dir, "old.o"))
		assert.True(t, os.IsNotExist(err), "stale files must be gone before configure")
	}

	res := f.runner.Run(context.Background(), f.variant)
	require.True(t, res.Success, res.LogExcerpt)
}

func TestRun_GenerateCollectionFailure(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Generate = true
		cfg.Baselines = baseline.NewManager(t.TempDir())
		cfg.Project.BaselinesSummaryFile = "data/baseline_list"
	})
	f.variant.BaselinesMissing = true

	res := f.runner.Run(context.Background(), f.variant)
	assert.False(t, res.Success)
	assert.Equal(t, model.PhaseTest, res.FailurePhase)
	assert.Contains(t, res.LogExcerpt, "baseline manifest")
	assert.True(t, f.variant.BaselinesMissing)
	assert.DirExists(t, f.buildDir(), "build directory is kept for inspection")
}

func TestConfigureLine(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Machine.ConfigFile = "cmake/machine-files/mappy.cmake"
		cfg.Machine.CCompiler = "mpicc"
		cfg.Baselines = baseline.NewManager("/baselines")
		cfg.Overrides = []model.Option{{Name: "CMAKE_BUILD_TYPE", Value: "Release"}}
	})
	got := f.runner.configureLine(f.variant)
	want := strings.Join([]string{
		"cmake",
		"-C cmake/machine-files/mappy.cmake",
		`-DCMAKE_BUILD_TYPE="Debug"`,
		`-DCMAKE_C_COMPILER="mpicc"`,
		`-DCMAKE_CXX_COMPILER="mpicxx"`,
		`-DEKAT_BASELINES_DIR="/baselines/full_debug"`,
		"-DEKAT_TEST_MAX_TOTAL_THREADS=4",
		`-DCMAKE_BUILD_TYPE="Release"`,
		"/src/ekat",
	}, " ")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("configure line mismatch (-want +got):\n%s", diff)
	}
}

func TestTestLine(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.TestRegex = "^ekat_(pack|kokkos)"
		cfg.TestLabels = "fast"
	})
	got := f.runner.testLine(f.variant, "/w/full_debug/ctest_resource_file.json")
	assert.Equal(t, "ctest -j4 --output-on-failure --resource-spec-file /w/full_debug/ctest_resource_file.json -R '^ekat_(pack|kokkos)' -L fast", got)

	f = newFixture(t, func(cfg *Config) {
		cfg.Generate = true
		cfg.Project.BaselineGenLabel = "proj_gen"
		cfg.TestRegex = "ignored"
	})
	got = f.runner.testLine(f.variant, "/spec.json")
	assert.Equal(t, "ctest -j4 --output-on-failure --resource-spec-file /spec.json -L proj_gen", got)
}

func TestBuildLine(t *testing.T) {
	assert.Equal(t, "make -j8", buildLine(8, nil))
	assert.Equal(t, "taskset -c 4,5 sh -c 'make -j2'", buildLine(2, []int{4, 5}))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "plain", quote("plain"))
	assert.Equal(t, "''", quote(""))
	assert.Equal(t, "'a b'", quote("a b"))
	assert.Equal(t, `'it'\''s'`, quote("it's"))
}

func TestReadExcerpt(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, readExcerpt(filepath.Join(dir, "missing.log")))

	small := filepath.Join(dir, "small.log")
	require.NoError(t, os.WriteFile(small, []byte("hello"), 0o644))
	assert.Equal(t, "hello", readExcerpt(small))

	big := filepath.Join(dir, "big.log")
	content := strings.Repeat("x", MaxExcerptBytes) + "TAIL"
	require.NoError(t, os.WriteFile(big, []byte(content), 0o644))
	got := readExcerpt(big)
	assert.True(t, strings.HasPrefix(got, "... (4 bytes truncated)"))
	assert.True(t, strings.HasSuffix(got, "TAIL"))
}
