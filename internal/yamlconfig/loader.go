// Package yamlconfig provides a YAML implementation of the config.Loader
// interface. It carries the same project, machine and build data as the HCL
// source; option values are plain strings parsed as HCL templates so that
// substitution behaves identically for both formats.
package yamlconfig

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/testprojbuilds/internal/config"
	"github.com/vk/testprojbuilds/internal/ctxlog"
	"github.com/vk/testprojbuilds/internal/fsutil"
	"gopkg.in/yaml.v3"
)

type fileRoot struct {
	Project  *projectDoc   `yaml:"project"`
	Machines []*machineDoc `yaml:"machines"`
	Builds   []*buildDoc   `yaml:"builds"`
}

type projectDoc struct {
	Name                 string  `yaml:"name"`
	BaselineGenLabel     *string `yaml:"baseline_gen_label"`
	BaselinesSummaryFile *string `yaml:"baselines_summary_file"`
	CMakeVarsPrefix      *string `yaml:"cmake_vars_prefix"`
	SubmitCommand        *string `yaml:"submit_command"`
}

type machineDoc struct {
	Name              string   `yaml:"name"`
	NumBuildResources *int     `yaml:"num_build_resources"`
	NumTestResources  *int     `yaml:"num_test_resources"`
	EnvSetup          []string `yaml:"env_setup"`
	GPUArch           *string  `yaml:"gpu_arch"`
	CXXCompiler       *string  `yaml:"cxx_compiler"`
	CCompiler         *string  `yaml:"c_compiler"`
	FortranCompiler   *string  `yaml:"ftn_compiler"`
	BaselinesDir      *string  `yaml:"baselines_dir"`
	ConfigFile        *string  `yaml:"config_file"`
	BaselineGenLabel  *string  `yaml:"baseline_gen_label"`
	ValgrindSuppFile  *string  `yaml:"valgrind_supp_file"`
}

type buildDoc struct {
	ShortName     string    `yaml:"short_name"`
	LongName      string    `yaml:"long_name"`
	Description   *string   `yaml:"description"`
	UsesBaselines *bool     `yaml:"uses_baselines"`
	OnByDefault   *bool     `yaml:"on_by_default"`
	CMakeArgs     yaml.Node `yaml:"cmake_args"`
}

// positions mirrors fileRoot with raw nodes, used only to report line numbers.
type positions struct {
	Project  yaml.Node   `yaml:"project"`
	Machines []yaml.Node `yaml:"machines"`
	Builds   []yaml.Node `yaml:"builds"`
}

// Loader is the YAML-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new YAML configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .yaml/.yml file under paths and merges the results.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("YAML loader started.", "path_count", len(paths))

	files, err := fsutil.FindFilesByExtension(paths, ".yaml", ".yml")
	if err != nil {
		return nil, config.Errorf("failed to discover YAML files: %w", err)
	}

	models := make([]*config.Model, 0, len(files))
	for _, file := range files {
		m, err := l.loadFile(file)
		if err != nil {
			return nil, err
		}
		if m == nil {
			logger.Debug("Skipping YAML file without project, machines or builds.", "file", file)
			continue
		}
		models = append(models, m)
		logger.Debug("Loaded YAML file.", "file", file, "machines", len(m.Machines), "builds", len(m.Builds))
	}
	return config.Merge(models...)
}

// loadFile returns nil, nil for documents that are not tpb configuration.
func (l *Loader) loadFile(file string) (*config.Model, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, config.Errorf("failed to read YAML file %s: %w", file, err)
	}
	ok, err := isConfigDocument(data)
	if err != nil {
		return nil, config.Errorf("failed to decode YAML file %s: %w", file, err)
	}
	if !ok {
		return nil, nil
	}

	var root fileRoot
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&root); err != nil && !errors.Is(err, io.EOF) {
		return nil, config.Errorf("failed to decode YAML file %s: %w", file, err)
	}

	var pos positions
	if err := yaml.Unmarshal(data, &pos); err != nil {
		return nil, config.Errorf("failed to decode YAML file %s: %w", file, err)
	}

	m := &config.Model{}
	if p := root.Project; p != nil {
		if p.Name == "" {
			return nil, config.Errorf("%s: project is missing required field 'name'", rangeOf(file, &pos.Project))
		}
		m.Project = &config.ProjectDefinition{
			Name:                 p.Name,
			BaselineGenLabel:     p.BaselineGenLabel,
			BaselinesSummaryFile: p.BaselinesSummaryFile,
			CMakeVarsPrefix:      p.CMakeVarsPrefix,
			SubmitCommand:        p.SubmitCommand,
			DeclRange:            rangeOf(file, &pos.Project),
		}
	}

	for i, md := range root.Machines {
		r := rangeOf(file, nodeAt(pos.Machines, i))
		if md.Name == "" {
			return nil, config.Errorf("%s: machine is missing required field 'name'", r)
		}
		m.Machines = append(m.Machines, &config.MachineDefinition{
			Name:              md.Name,
			NumBuildResources: md.NumBuildResources,
			NumTestResources:  md.NumTestResources,
			EnvSetup:          md.EnvSetup,
			GPUArch:           md.GPUArch,
			CXXCompiler:       md.CXXCompiler,
			CCompiler:         md.CCompiler,
			FortranCompiler:   md.FortranCompiler,
			BaselinesDir:      md.BaselinesDir,
			ConfigFile:        md.ConfigFile,
			BaselineGenLabel:  md.BaselineGenLabel,
			ValgrindSuppFile:  md.ValgrindSuppFile,
			DeclRange:         r,
		})
	}

	for i, bd := range root.Builds {
		r := rangeOf(file, nodeAt(pos.Builds, i))
		if bd.ShortName == "" || bd.LongName == "" {
			return nil, config.Errorf("%s: build requires both 'short_name' and 'long_name'", r)
		}
		opts, err := translateOptions(file, bd)
		if err != nil {
			return nil, err
		}
		m.Builds = append(m.Builds, &config.BuildDefinition{
			ShortName:     bd.ShortName,
			LongName:      bd.LongName,
			Description:   bd.Description,
			UsesBaselines: bd.UsesBaselines,
			OnByDefault:   bd.OnByDefault,
			CMakeArgs:     opts,
			DeclRange:     r,
		})
	}
	return m, nil
}

// topLevelKeys are the keys that mark a document as tpb configuration. Other
// YAML files in the config directory are left alone; documents that carry any
// of these keys are decoded strictly.
var topLevelKeys = map[string]bool{"project": true, "machines": true, "builds": true}

func isConfigDocument(data []byte) (bool, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return false, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return false, nil
	}
	for i := 0; i < len(root.Content); i += 2 {
		if topLevelKeys[root.Content[i].Value] {
			return true, nil
		}
	}
	return false, nil
}

// translateOptions walks the cmake_args mapping node pair by pair, which keeps
// declaration order, and parses each scalar value as an HCL template.
func translateOptions(file string, bd *buildDoc) ([]*config.Option, error) {
	node := &bd.CMakeArgs
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, config.Errorf("%s: build %q: cmake_args must be a mapping", rangeOf(file, node), bd.ShortName)
	}

	opts := make([]*config.Option, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return nil, config.Errorf("%s: build %q: option %q must be a scalar", rangeOf(file, val), bd.ShortName, key.Value)
		}
		expr, diags := hclsyntax.ParseTemplate([]byte(val.Value), file, hcl.Pos{Line: val.Line, Column: val.Column, Byte: 0})
		if diags.HasErrors() {
			return nil, config.Errorf("build %q: option %q: %w", bd.ShortName, key.Value, diags)
		}
		opts = append(opts, &config.Option{Name: key.Value, Expr: expr})
	}
	return opts, nil
}

func nodeAt(nodes []yaml.Node, i int) *yaml.Node {
	if i < len(nodes) {
		return &nodes[i]
	}
	return nil
}

func rangeOf(file string, node *yaml.Node) hcl.Range {
	r := hcl.Range{Filename: file}
	if node != nil {
		r.Start = hcl.Pos{Line: node.Line, Column: node.Column}
		r.End = r.Start
	}
	return r
}

var _ config.Loader = (*Loader)(nil)
