package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/testprojbuilds/internal/config"
	"github.com/vk/testprojbuilds/internal/ctxlog"
	"github.com/vk/testprojbuilds/internal/model"
	"github.com/vk/testprojbuilds/internal/subst"
)

// Project returns the resolved project descriptor.
func (r *Registry) Project() *model.Project {
	pd := r.model.Project
	p := &model.Project{
		Name:                 pd.Name,
		BaselineGenLabel:     deref(pd.BaselineGenLabel),
		BaselinesSummaryFile: deref(pd.BaselinesSummaryFile),
		CMakeVarsPrefix:      deref(pd.CMakeVarsPrefix),
		SubmitCommand:        deref(pd.SubmitCommand),
	}
	if p.CMakeVarsPrefix == "" {
		p.CMakeVarsPrefix = strings.ToUpper(p.Name)
	}
	return p
}

// Machine resolves the named machine. Resource counts that are not declared,
// or declared non-positive, default to the detected CPU count.
func (r *Registry) Machine(ctx context.Context, name string) (*model.Machine, error) {
	md, ok := r.machines[name]
	if !ok {
		return nil, config.Errorf("could not locate machine %q (available: %s)", name, strings.Join(r.MachineNames(), ", "))
	}

	m := &model.Machine{
		Name:             md.Name,
		EnvSetup:         append([]string(nil), md.EnvSetup...),
		GPUArch:          deref(md.GPUArch),
		CXXCompiler:      deref(md.CXXCompiler),
		CCompiler:        deref(md.CCompiler),
		FortranCompiler:  deref(md.FortranCompiler),
		BaselinesDir:     deref(md.BaselinesDir),
		ConfigFile:       deref(md.ConfigFile),
		BaselineGenLabel: deref(md.BaselineGenLabel),
		ValgrindSuppFile: deref(md.ValgrindSuppFile),
	}
	if m.BaselineGenLabel == "" {
		m.BaselineGenLabel = model.DefaultBaselineGenLabel
	}

	var err error
	if m.NumBuildResources, err = r.resourceCount(md.NumBuildResources); err != nil {
		return nil, config.Errorf("machine %q: num_build_resources: %w", name, err)
	}
	if m.NumTestResources, err = r.resourceCount(md.NumTestResources); err != nil {
		return nil, config.Errorf("machine %q: num_test_resources: %w", name, err)
	}

	ctxlog.FromContext(ctx).Debug("Machine resolved.",
		"machine", m.Name,
		"build_resources", m.NumBuildResources,
		"test_resources", m.NumTestResources,
		"accelerator", m.UsesAccelerator(),
	)
	return m, nil
}

func (r *Registry) resourceCount(declared *int) (int, error) {
	if declared != nil && *declared > 0 {
		return *declared, nil
	}
	if r.cpuCached == 0 {
		if r.cpuCount == nil {
			return 0, fmt.Errorf("not declared and CPU detection is unavailable")
		}
		n, err := r.cpuCount()
		if err != nil {
			return 0, fmt.Errorf("detecting available CPUs: %w", err)
		}
		if n <= 0 {
			return 0, fmt.Errorf("detected %d available CPUs", n)
		}
		r.cpuCached = n
	}
	return r.cpuCached, nil
}

// Variants resolves the requested build variants for the given machine. With
// no request, every build that is on by default is selected. Selection keeps
// configuration order whatever order the request names them in. When
// generating baselines, builds that do not use baselines are dropped with a
// note.
func (r *Registry) Variants(ctx context.Context, project *model.Project, machine *model.Machine, requested []string, generate bool) ([]*model.BuildVariant, error) {
	logger := ctxlog.FromContext(ctx)

	wanted := make(map[string]bool, len(requested))
	for _, name := range requested {
		if _, ok := r.builds[name]; !ok {
			return nil, config.Errorf("could not locate build %q (available: %s)", name, strings.Join(r.BuildNames(), ", "))
		}
		wanted[name] = true
	}

	var variants []*model.BuildVariant
	for _, bd := range r.model.Builds {
		v := newVariant(bd)
		if len(wanted) > 0 {
			if !wanted[bd.ShortName] {
				continue
			}
		} else if !v.OnByDefault {
			continue
		}
		if generate && !v.UsesBaselines {
			logger.Info("Discarding build, since it does not use baselines and baselines are being generated.", "build", v.LongName)
			continue
		}

		opts, err := subst.ResolveOptions(subst.Scope{Project: project, Machine: machine, Build: v}, bd)
		if err != nil {
			return nil, err
		}
		v.CMakeArgs = opts
		variants = append(variants, v)
	}

	logger.Debug("Build variants resolved.", "count", len(variants))
	return variants, nil
}

func newVariant(bd *config.BuildDefinition) *model.BuildVariant {
	v := model.NewBuildVariant(bd.ShortName, bd.LongName)
	v.Description = deref(bd.Description)
	v.UsesBaselines = derefBool(bd.UsesBaselines, true)
	v.OnByDefault = derefBool(bd.OnByDefault, true)
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
