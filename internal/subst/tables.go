package subst

import (
	"github.com/vk/testprojbuilds/internal/model"
	"github.com/zclconf/go-cty/cty"
)

// Unset string fields map to null so that referencing them is an error
// rather than a silent empty substitution.
func str(s string) cty.Value {
	if s == "" {
		return cty.NullVal(cty.String)
	}
	return cty.StringVal(s)
}

func projectTable(p *model.Project) map[string]cty.Value {
	if p == nil {
		p = &model.Project{}
	}
	return map[string]cty.Value{
		"name":                   str(p.Name),
		"baseline_gen_label":     str(p.BaselineGenLabel),
		"baselines_summary_file": str(p.BaselinesSummaryFile),
		"cmake_vars_prefix":      str(p.CMakeVarsPrefix),
	}
}

func machineTable(m *model.Machine) map[string]cty.Value {
	if m == nil {
		m = &model.Machine{}
	}
	return map[string]cty.Value{
		"name":                str(m.Name),
		"num_build_resources": cty.NumberIntVal(int64(m.NumBuildResources)),
		"num_test_resources":  cty.NumberIntVal(int64(m.NumTestResources)),
		"uses_accelerator":    cty.BoolVal(m.UsesAccelerator()),
		"gpu_arch":            str(m.GPUArch),
		"cxx_compiler":        str(m.CXXCompiler),
		"c_compiler":          str(m.CCompiler),
		"ftn_compiler":        str(m.FortranCompiler),
		"baselines_dir":       str(m.BaselinesDir),
		"config_file":         str(m.ConfigFile),
		"baseline_gen_label":  str(m.BaselineGenLabel),
		"valgrind_supp_file":  str(m.ValgrindSuppFile),
	}
}

func buildTable(v *model.BuildVariant) map[string]cty.Value {
	if v == nil {
		v = &model.BuildVariant{}
	}
	return map[string]cty.Value{
		"short_name":     str(v.ShortName),
		"long_name":      str(v.LongName),
		"description":    str(v.Description),
		"uses_baselines": cty.BoolVal(v.UsesBaselines),
		"on_by_default":  cty.BoolVal(v.OnByDefault),
	}
}
