package runner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vk/testprojbuilds/internal/model"
)

// quote wraps s for /bin/sh so it is passed as a single word.
func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[](){}<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func define(name, value string) string {
	return fmt.Sprintf(`-D%s="%s"`, name, value)
}

// configureLine builds the cmake invocation. User overrides come last so they
// win over everything the harness sets.
func (r *Runner) configureLine(v *model.BuildVariant) string {
	m := r.cfg.Machine
	prefix := r.cfg.Project.CMakeVarsPrefix

	args := []string{"cmake"}
	if m.ConfigFile != "" {
		args = append(args, "-C", quote(m.ConfigFile))
	}
	for _, o := range v.CMakeArgs {
		args = append(args, define(o.Name, o.Value))
	}
	if m.CCompiler != "" {
		args = append(args, define("CMAKE_C_COMPILER", m.CCompiler))
	}
	if m.CXXCompiler != "" {
		args = append(args, define("CMAKE_CXX_COMPILER", m.CXXCompiler))
	}
	if m.FortranCompiler != "" {
		args = append(args, define("CMAKE_Fortran_COMPILER", m.FortranCompiler))
	}
	if r.cfg.Baselines != nil && v.UsesBaselines {
		args = append(args, define(prefix+"_BASELINES_DIR", r.cfg.Baselines.VariantDir(v)))
	}
	if r.cfg.Generate {
		args = append(args, fmt.Sprintf("-D%s_ONLY_GENERATE_BASELINES=ON", prefix))
	}
	args = append(args, fmt.Sprintf("-D%s_TEST_MAX_TOTAL_THREADS=%d", prefix, v.TestResourceCount))
	for _, o := range r.cfg.Overrides {
		args = append(args, define(o.Name, o.Value))
	}
	args = append(args, quote(r.cfg.RootDir))
	return strings.Join(args, " ")
}

// buildLine builds the make invocation, pinned to ids when given.
func buildLine(jobs int, ids []int) string {
	line := fmt.Sprintf("make -j%d", jobs)
	if len(ids) == 0 {
		return line
	}
	cpus := make([]string, 0, len(ids))
	for _, id := range ids {
		cpus = append(cpus, strconv.Itoa(id))
	}
	return fmt.Sprintf("taskset -c %s sh -c '%s'", strings.Join(cpus, ","), line)
}

// testLine builds the ctest invocation.
func (r *Runner) testLine(v *model.BuildVariant, specFile string) string {
	args := []string{
		fmt.Sprintf("ctest -j%d", v.TestResourceCount),
		"--output-on-failure",
		"--resource-spec-file", quote(specFile),
	}
	if r.cfg.Generate {
		if label := r.generationLabel(); label != "" {
			args = append(args, "-L", quote(label))
		}
	} else {
		if r.cfg.TestRegex != "" {
			args = append(args, "-R", quote(r.cfg.TestRegex))
		}
		if r.cfg.TestLabels != "" {
			args = append(args, "-L", quote(r.cfg.TestLabels))
		}
	}
	return strings.Join(args, " ")
}

// generationLabel prefers the project's label over the machine's.
func (r *Runner) generationLabel() string {
	if r.cfg.Project.BaselineGenLabel != "" {
		return r.cfg.Project.BaselineGenLabel
	}
	return r.cfg.Machine.BaselineGenLabel
}
