package hcl

import (
	"github.com/hashicorp/hcl/v2"
)

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Project  *projectBlock   `hcl:"project,block"`
	Machines []*machineBlock `hcl:"machine,block"`
	Builds   []*buildBlock   `hcl:"build,block"`
}

type projectBlock struct {
	Name                 string   `hcl:"name"`
	BaselineGenLabel     *string  `hcl:"baseline_gen_label,optional"`
	BaselinesSummaryFile *string  `hcl:"baselines_summary_file,optional"`
	CMakeVarsPrefix      *string  `hcl:"cmake_vars_prefix,optional"`
	SubmitCommand        *string  `hcl:"submit_command,optional"`
	Body                 hcl.Body `hcl:",body"`
}

type machineBlock struct {
	Name              string   `hcl:"name,label"`
	NumBuildResources *int     `hcl:"num_build_resources,optional"`
	NumTestResources  *int     `hcl:"num_test_resources,optional"`
	EnvSetup          []string `hcl:"env_setup,optional"`
	GPUArch           *string  `hcl:"gpu_arch,optional"`
	CXXCompiler       *string  `hcl:"cxx_compiler,optional"`
	CCompiler         *string  `hcl:"c_compiler,optional"`
	FortranCompiler   *string  `hcl:"ftn_compiler,optional"`
	BaselinesDir      *string  `hcl:"baselines_dir,optional"`
	ConfigFile        *string  `hcl:"config_file,optional"`
	BaselineGenLabel  *string  `hcl:"baseline_gen_label,optional"`
	ValgrindSuppFile  *string  `hcl:"valgrind_supp_file,optional"`
	Body              hcl.Body `hcl:",body"`
}

type buildBlock struct {
	ShortName     string          `hcl:"short_name,label"`
	LongName      string          `hcl:"long_name"`
	Description   *string         `hcl:"description,optional"`
	UsesBaselines *bool           `hcl:"uses_baselines,optional"`
	OnByDefault   *bool           `hcl:"on_by_default,optional"`
	CMakeArgs     *cmakeArgsBlock `hcl:"cmake_args,block"`
	Body          hcl.Body        `hcl:",body"`
}

// cmakeArgsBlock holds free-form NAME = "value" attributes. Values may be
// templates referencing project, machine or build attributes, so they are
// captured raw and evaluated later.
type cmakeArgsBlock struct {
	Options hcl.Body `hcl:",remain"`
}
