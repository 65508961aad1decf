package hcl

import (
	"context"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/testprojbuilds/internal/config"
	"github.com/vk/testprojbuilds/internal/ctxlog"
)

// translate converts the decoded HCL blocks of a single file into the agnostic model.
func (l *Loader) translate(ctx context.Context, root *fileRoot) (*config.Model, error) {
	m := &config.Model{}

	if p := root.Project; p != nil {
		m.Project = &config.ProjectDefinition{
			Name:                 p.Name,
			BaselineGenLabel:     p.BaselineGenLabel,
			BaselinesSummaryFile: p.BaselinesSummaryFile,
			CMakeVarsPrefix:      p.CMakeVarsPrefix,
			SubmitCommand:        p.SubmitCommand,
			DeclRange:            bodyRange(p.Body),
		}
	}

	for _, mb := range root.Machines {
		m.Machines = append(m.Machines, &config.MachineDefinition{
			Name:              mb.Name,
			NumBuildResources: mb.NumBuildResources,
			NumTestResources:  mb.NumTestResources,
			EnvSetup:          mb.EnvSetup,
			GPUArch:           mb.GPUArch,
			CXXCompiler:       mb.CXXCompiler,
			CCompiler:         mb.CCompiler,
			FortranCompiler:   mb.FortranCompiler,
			BaselinesDir:      mb.BaselinesDir,
			ConfigFile:        mb.ConfigFile,
			BaselineGenLabel:  mb.BaselineGenLabel,
			ValgrindSuppFile:  mb.ValgrindSuppFile,
			DeclRange:         bodyRange(mb.Body),
		})
	}

	for _, bb := range root.Builds {
		opts, err := l.translateOptions(ctx, bb)
		if err != nil {
			return nil, err
		}
		m.Builds = append(m.Builds, &config.BuildDefinition{
			ShortName:     bb.ShortName,
			LongName:      bb.LongName,
			Description:   bb.Description,
			UsesBaselines: bb.UsesBaselines,
			OnByDefault:   bb.OnByDefault,
			CMakeArgs:     opts,
			DeclRange:     bodyRange(bb.Body),
		})
	}
	return m, nil
}

// translateOptions extracts the cmake_args attributes of a build block in
// source order. HCL bodies expose attributes as a map, so the order is
// recovered from their byte offsets.
func (l *Loader) translateOptions(ctx context.Context, bb *buildBlock) ([]*config.Option, error) {
	if bb.CMakeArgs == nil || bb.CMakeArgs.Options == nil {
		return nil, nil
	}
	attrs, diags := bb.CMakeArgs.Options.JustAttributes()
	if diags.HasErrors() {
		return nil, config.Errorf("build %q: invalid cmake_args: %w", bb.ShortName, diags)
	}

	ordered := make([]*hcl.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		ordered = append(ordered, attr)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Range.Start.Byte < ordered[j].Range.Start.Byte
	})

	opts := make([]*config.Option, 0, len(ordered))
	for _, attr := range ordered {
		opts = append(opts, &config.Option{Name: attr.Name, Expr: attr.Expr})
	}
	ctxlog.FromContext(ctx).Debug("Translated build options.", "build", bb.ShortName, "count", len(opts))
	return opts, nil
}

func bodyRange(body hcl.Body) hcl.Range {
	if body == nil {
		return hcl.Range{}
	}
	return body.MissingItemRange()
}
