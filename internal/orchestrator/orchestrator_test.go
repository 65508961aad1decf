package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/testprojbuilds/internal/baseline"
	"github.com/vk/testprojbuilds/internal/config"
	"github.com/vk/testprojbuilds/internal/events"
	"github.com/vk/testprojbuilds/internal/registry"
	"github.com/vk/testprojbuilds/internal/resources"
	"github.com/vk/testprojbuilds/internal/shell"
)

type fakeShell struct {
	mu       sync.Mutex
	commands []shell.Command
	// fail maps a substring of the command line to the exit code to return.
	fail map[string]int
}

func (f *fakeShell) Run(_ context.Context, cmd shell.Command) (int, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()

	code := 0
	for substr, c := range f.fail {
		if strings.Contains(cmd.Line, substr) {
			code = c
		}
	}
	if cmd.LogPath != "" {
		out := "ran: " + cmd.Line + "\n"
		if code != 0 {
			out += "FAILED\n"
		}
		if err := os.WriteFile(cmd.LogPath, []byte(out), 0o644); err != nil {
			return -1, err
		}
	}
	return code, nil
}

func (f *fakeShell) Output(context.Context, shell.Command) (string, error) {
	return "", nil
}

func (f *fakeShell) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.commands {
		out = append(out, c.Line)
	}
	return out
}

func (f *fakeShell) matching(substr string) []shell.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []shell.Command
	for _, c := range f.commands {
		if strings.Contains(c.Line, substr) {
			out = append(out, c)
		}
	}
	return out
}

type fakeRepo struct{}

func (fakeRepo) CurrentSHA(context.Context, bool) (string, error) { return "deadbeef", nil }
func (fakeRepo) CurrentRef(context.Context) (string, error)       { return "master", nil }

func ptr[T any](v T) *T { return &v }

func literal(t *testing.T, name, value string) *config.Option {
	t.Helper()
	expr, diags := hclsyntax.ParseTemplate([]byte(value), name, hcl.InitialPos)
	require.False(t, diags.HasErrors())
	return &config.Option{Name: name, Expr: expr}
}

type fixture struct {
	opts  Options
	deps  Deps
	shell *fakeShell
	board *events.Board
	root  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	tmp := t.TempDir()

	m := &config.Model{
		Project: &config.ProjectDefinition{Name: "ekat", SubmitCommand: ptr("ctest -D Experimental")},
		Machines: []*config.MachineDefinition{{
			Name:              "mappy",
			NumBuildResources: ptr(8),
			NumTestResources:  ptr(8),
			BaselinesDir:      ptr(filepath.Join(tmp, "auto-baselines")),
		}},
		Builds: []*config.BuildDefinition{
			{ShortName: "dbg", LongName: "full_debug", CMakeArgs: []*config.Option{literal(t, "CMAKE_BUILD_TYPE", "Debug")}},
			{ShortName: "sp", LongName: "full_sp_debug"},
			{ShortName: "fpe", LongName: "debug_nopack_fpe", UsesBaselines: ptr(false)},
		},
	}
	reg, err := registry.New(ctx, m, func() (int, error) { return 8, nil })
	require.NoError(t, err)

	fs := &fakeShell{fail: map[string]int{}}
	board := events.NewBoard()
	return &fixture{
		opts: Options{
			Machine: "mappy",
			RootDir: filepath.Join(tmp, "src"),
			WorkDir: filepath.Join(tmp, "work"),
			Report:  &bytes.Buffer{},
		},
		deps: Deps{
			Registry: reg,
			Shell:    fs,
			Affinity: func() ([]int, error) { return []int{0, 1, 2, 3, 4, 5, 6, 7}, nil },
			Repo:     fakeRepo{},
			Events:   board,
		},
		shell: fs,
		board: board,
		root:  tmp,
	}
}

func (f *fixture) run(t *testing.T) (*Summary, error) {
	t.Helper()
	return New(f.opts, f.deps).Run(context.Background())
}

func (f *fixture) report() string {
	return f.opts.Report.(*bytes.Buffer).String()
}

func makeBaselines(t *testing.T, root string, longNames ...string) {
	t.Helper()
	for _, n := range longNames {
		require.NoError(t, os.MkdirAll(filepath.Join(root, n, "data"), 0o755))
	}
}

func TestRun_SubmitWithGenerateFailsBeforeResolution(t *testing.T) {
	// No registry at all: resolution would panic if it were attempted.
	o := New(Options{Machine: "mappy", Submit: true, Generate: true, BaselineDir: "/b", RootDir: "/r", WorkDir: "/w"}, Deps{})
	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.True(t, config.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "submit")
}

func TestRun_OptionValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr string
	}{
		{name: "generate without baseline dir", mutate: func(o *Options) { o.Generate = true }, wantErr: "without a baseline directory"},
		{name: "generate with no-build", mutate: func(o *Options) { o.Generate, o.BaselineDir, o.NoBuild = true, "/b", true }, wantErr: "--no-build"},
		{name: "generate with no-run", mutate: func(o *Options) { o.Generate, o.BaselineDir, o.NoRun = true, "/b", true }, wantErr: "--no-run"},
		{name: "missing machine", mutate: func(o *Options) { o.Machine = "" }, wantErr: "machine name is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.mutate(&f.opts)
			_, err := f.run(t)
			require.Error(t, err)
			assert.True(t, config.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tc.wantErr)
			assert.Empty(t, f.shell.lines())
		})
	}
}

func TestRun_SequentialDefaults(t *testing.T) {
	f := newFixture(t)
	summary, err := f.run(t)
	require.NoError(t, err)
	require.True(t, summary.Success)

	require.Len(t, summary.Results, 3)
	for i, want := range []string{"dbg", "sp", "fpe"} {
		assert.Equal(t, want, summary.Results[i].Variant.ShortName)
		assert.Equal(t, 8, summary.Results[i].Variant.BuildResourceCount)
		assert.Equal(t, 8, summary.Results[i].Variant.TestResourceCount)
	}

	// Sequential dispatch keeps variants strictly in order.
	var dirs []string
	for _, c := range f.shell.matching("cmake") {
		dirs = append(dirs, filepath.Base(c.Dir))
	}
	assert.Equal(t, []string{"full_debug", "full_sp_debug", "debug_nopack_fpe"}, dirs)
	for _, c := range f.shell.matching("make -j") {
		assert.Equal(t, "make -j8", c.Line, "sequential builds are not pinned")
	}

	assert.Contains(t, f.report(), "PASS")
	assert.Len(t, f.board.Snapshot(), 3)
	for _, ev := range f.board.Snapshot() {
		assert.True(t, ev.Final)
		assert.True(t, ev.Success)
	}
}

func TestRun_ParallelPartitionsResources(t *testing.T) {
	f := newFixture(t)
	f.opts.Parallel = true
	f.opts.Builds = []string{"dbg", "sp"}

	summary, err := f.run(t)
	require.NoError(t, err)
	require.True(t, summary.Success)
	for _, r := range summary.Results {
		assert.Equal(t, 4, r.Variant.BuildResourceCount)
		assert.Equal(t, 4, r.Variant.TestResourceCount)
	}

	pinned := map[string]string{}
	for _, c := range f.shell.matching("taskset") {
		pinned[filepath.Base(c.Dir)] = c.Line
	}
	assert.Equal(t, "taskset -c 0,1,2,3 sh -c 'make -j4'", pinned["full_debug"])
	assert.Equal(t, "taskset -c 4,5,6,7 sh -c 'make -j4'", pinned["full_sp_debug"])

	var testIDs []int
	for _, long := range []string{"full_debug", "full_sp_debug"} {
		spec, err := resources.ReadSpecFile(filepath.Join(f.opts.WorkDir, long, resources.SpecFileName))
		require.NoError(t, err)
		ids, err := spec.IDs()
		require.NoError(t, err)
		testIDs = append(testIDs, ids...)
	}
	sort.Ints(testIDs)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, testIDs, "test slices must not overlap")
}

func TestRun_ParallelThreeVariantsUneven(t *testing.T) {
	f := newFixture(t)
	f.opts.Parallel = true
	f.opts.NoRun = true

	summary, err := f.run(t)
	require.NoError(t, err)
	var got []int
	for _, r := range summary.Results {
		got = append(got, r.Variant.TestResourceCount)
	}
	assert.Equal(t, []int{3, 3, 2}, got)
}

func TestRun_InsufficientResources(t *testing.T) {
	f := newFixture(t)
	m := &config.Model{
		Project:  &config.ProjectDefinition{Name: "ekat"},
		Machines: []*config.MachineDefinition{{Name: "tiny", NumBuildResources: ptr(8), NumTestResources: ptr(2)}},
		Builds: []*config.BuildDefinition{
			{ShortName: "a", LongName: "a"}, {ShortName: "b", LongName: "b"}, {ShortName: "c", LongName: "c"},
		},
	}
	reg, err := registry.New(context.Background(), m, nil)
	require.NoError(t, err)
	f.deps.Registry = reg
	f.opts.Machine = "tiny"
	f.opts.Parallel = true

	_, err = f.run(t)
	var insufficient *resources.InsufficientResourcesError
	require.True(t, errors.As(err, &insufficient))
	assert.Empty(t, f.shell.lines())
}

func TestRun_AffinityTooSmall(t *testing.T) {
	f := newFixture(t)
	f.opts.Parallel = true
	f.deps.Affinity = func() ([]int, error) { return []int{0, 1, 2, 3}, nil }

	_, err := f.run(t)
	var oor *resources.OffsetOutOfRangeError
	require.True(t, errors.As(err, &oor))
	assert.Empty(t, f.shell.lines(), "nothing may start before the slices are known to fit")
}

func TestRun_ConfigFailureIsScopedToVariant(t *testing.T) {
	f := newFixture(t)
	f.opts.Parallel = true
	f.opts.Builds = []string{"dbg", "sp"}
	f.shell.fail[`-DCMAKE_BUILD_TYPE="Debug"`] = 1

	summary, err := f.run(t)
	require.NoError(t, err)
	assert.False(t, summary.Success)

	byName := map[string]bool{}
	for _, r := range summary.Results {
		byName[r.Variant.ShortName] = r.Success
	}
	assert.False(t, byName["dbg"])
	assert.True(t, byName["sp"], "a failing sibling must not cancel other variants")

	for _, c := range f.shell.matching("make -j") {
		assert.NotEqual(t, "full_debug", filepath.Base(c.Dir), "failed variant must not build")
	}
	report := f.report()
	assert.Contains(t, report, "FAIL")
	assert.Contains(t, report, "Build type full_debug failed at config time")
	assert.Contains(t, report, "FAILED")
}

func TestRun_MissingBaselinesAbortsBeforeWork(t *testing.T) {
	f := newFixture(t)
	baselineRoot := filepath.Join(f.root, "baselines")
	makeBaselines(t, baselineRoot, "full_debug")
	f.opts.BaselineDir = baselineRoot

	_, err := f.run(t)
	var missing *baseline.MissingBaselinesError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"full_sp_debug"}, missing.Variants, "builds without baselines are not required")
	assert.Empty(t, f.shell.lines())
}

func TestRun_BaselinesPresent(t *testing.T) {
	f := newFixture(t)
	baselineRoot := filepath.Join(f.root, "baselines")
	makeBaselines(t, baselineRoot, "full_debug", "full_sp_debug")
	f.opts.BaselineDir = baselineRoot

	summary, err := f.run(t)
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Contains(t, f.shell.matching("cmake")[0].Line, `-DEKAT_BASELINES_DIR="`+filepath.Join(baselineRoot, "full_debug")+`"`)
}

func TestRun_BaselineDirMustDifferFromWorkDir(t *testing.T) {
	f := newFixture(t)
	f.opts.BaselineDir = f.opts.WorkDir

	_, err := f.run(t)
	require.Error(t, err)
	assert.True(t, config.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "work dir")
}

func TestRun_GenerateAutoBaselineDir(t *testing.T) {
	f := newFixture(t)
	f.opts.Generate = true
	f.opts.BaselineDir = AutoBaselineDir

	summary, err := f.run(t)
	require.NoError(t, err)
	require.True(t, summary.Success)

	var names []string
	for _, r := range summary.Results {
		names = append(names, r.Variant.ShortName)
		assert.False(t, r.Variant.BaselinesMissing)
	}
	assert.Equal(t, []string{"dbg", "sp"}, names, "builds without baselines are excluded when generating")

	autoDir := filepath.Join(f.root, "auto-baselines")
	sha, err := baseline.NewManager(autoDir).Provenance(summary.Results[0].Variant)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", sha)

	for _, c := range f.shell.matching("ctest") {
		assert.Contains(t, c.Line, "-L baseline_gen")
	}
}

func TestRun_AutoWithoutMachineDir(t *testing.T) {
	f := newFixture(t)
	m := &config.Model{
		Project:  &config.ProjectDefinition{Name: "ekat"},
		Machines: []*config.MachineDefinition{{Name: "bare", NumBuildResources: ptr(1), NumTestResources: ptr(1)}},
		Builds:   []*config.BuildDefinition{{ShortName: "a", LongName: "a"}},
	}
	reg, err := registry.New(context.Background(), m, nil)
	require.NoError(t, err)
	f.deps.Registry = reg
	f.opts.Machine = "bare"
	f.opts.BaselineDir = AutoBaselineDir

	_, err = f.run(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no baselines_dir")
}

func TestRun_Submit(t *testing.T) {
	f := newFixture(t)
	f.opts.Submit = true

	summary, err := f.run(t)
	require.NoError(t, err)
	assert.True(t, summary.Success)
	submits := f.shell.matching("ctest -D Experimental")
	require.Len(t, submits, 1, "submission happens once per run")
	assert.Equal(t, f.opts.WorkDir, submits[0].Dir)
}

func TestRun_SubmitFailureFailsRun(t *testing.T) {
	f := newFixture(t)
	f.opts.Submit = true
	f.shell.fail["ctest -D Experimental"] = 1

	summary, err := f.run(t)
	require.NoError(t, err)
	assert.False(t, summary.Success)
	assert.True(t, summary.SubmitFailed)
}

func TestRun_UnknownBuild(t *testing.T) {
	f := newFixture(t)
	f.opts.Builds = []string{"nope"}
	_, err := f.run(t)
	require.Error(t, err)
	assert.True(t, config.IsConfigurationError(err))
}
