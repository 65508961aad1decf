package config

import (
	"github.com/hashicorp/hcl/v2"
)

// Model is the unified, format-agnostic representation of every configuration
// file found in the configuration directory.
type Model struct {
	Project  *ProjectDefinition
	Machines []*MachineDefinition
	Builds   []*BuildDefinition
}

// ProjectDefinition describes the project under test.
type ProjectDefinition struct {
	Name                 string
	BaselineGenLabel     *string
	BaselinesSummaryFile *string
	CMakeVarsPrefix      *string
	SubmitCommand        *string
	DeclRange            hcl.Range
}

// MachineDefinition is the raw description of an execution host.
type MachineDefinition struct {
	Name              string
	NumBuildResources *int
	NumTestResources  *int
	EnvSetup          []string
	GPUArch           *string
	CXXCompiler       *string
	CCompiler         *string
	FortranCompiler   *string
	BaselinesDir      *string
	ConfigFile        *string
	BaselineGenLabel  *string
	ValgrindSuppFile  *string
	DeclRange         hcl.Range
}

// BuildDefinition is the raw description of one build type.
type BuildDefinition struct {
	ShortName     string
	LongName      string
	Description   *string
	UsesBaselines *bool
	OnByDefault   *bool
	// CMakeArgs are kept in declaration order.
	CMakeArgs []*Option
	DeclRange hcl.Range
}

// Option is a single build-configuration option whose value is a template
// that may reference project, machine or build attributes.
type Option struct {
	Name string
	Expr hcl.Expression
}
