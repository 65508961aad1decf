// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package model

// DefaultBaselineGenLabel selects the tests that produce baselines when a
// machine does not name its own label.
const DefaultBaselineGenLabel = "baseline_gen"

// Project describes the project being built and tested.
type Project struct {
	Name string
	// BaselineGenLabel, when set, overrides the machine's label during
	// baseline generation.
	BaselineGenLabel string
	// BaselinesSummaryFile is the manifest, relative to the build dir, that
	// lists the files to copy into the baseline directory.
	BaselinesSummaryFile string
	// CMakeVarsPrefix prefixes the project-specific cache variables the
	// harness passes (e.g. <prefix>_BASELINES_DIR).
	CMakeVarsPrefix string
	SubmitCommand   string
}

// Machine describes an execution host. It is immutable once resolved.
type Machine struct {
	Name              string
	NumBuildResources int
	NumTestResources  int
	// EnvSetup statements run, in order, before every command on this machine.
	EnvSetup         []string
	GPUArch          string
	CXXCompiler      string
	CCompiler        string
	FortranCompiler  string
	BaselinesDir     string
	ConfigFile       string
	BaselineGenLabel string
	ValgrindSuppFile string
}

// UsesAccelerator reports whether the test phase binds to accelerator slots
// instead of CPU cores.
func (m *Machine) UsesAccelerator() bool {
	return m.GPUArch != ""
}
