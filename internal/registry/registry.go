package registry

import (
	"context"

	"github.com/vk/testprojbuilds/internal/config"
	"github.com/vk/testprojbuilds/internal/ctxlog"
)

// CPUCountFunc reports how many logical CPUs the process may run on.
type CPUCountFunc func() (int, error)

// Registry holds the definitions of one configuration source, indexed for
// lookup.
type Registry struct {
	model     *config.Model
	machines  map[string]*config.MachineDefinition
	builds    map[string]*config.BuildDefinition
	cpuCount  CPUCountFunc
	cpuCached int
}

// New indexes the model and validates it. cpuCount supplies the default
// resource counts for machines that do not declare them.
func New(ctx context.Context, m *config.Model, cpuCount CPUCountFunc) (*Registry, error) {
	if m == nil {
		m = &config.Model{}
	}
	r := &Registry{
		model:    m,
		machines: make(map[string]*config.MachineDefinition, len(m.Machines)),
		builds:   make(map[string]*config.BuildDefinition, len(m.Builds)),
		cpuCount: cpuCount,
	}
	for _, md := range m.Machines {
		r.machines[md.Name] = md
	}
	for _, bd := range m.Builds {
		r.builds[bd.ShortName] = bd
	}
	if err := r.validate(ctx); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Registry populated.", "machines", len(m.Machines), "builds", len(m.Builds))
	return r, nil
}

// MachineNames returns the declared machines in declaration order.
func (r *Registry) MachineNames() []string {
	names := make([]string, 0, len(r.model.Machines))
	for _, md := range r.model.Machines {
		names = append(names, md.Name)
	}
	return names
}

// BuildNames returns the declared build short names in declaration order.
func (r *Registry) BuildNames() []string {
	names := make([]string, 0, len(r.model.Builds))
	for _, bd := range r.model.Builds {
		names = append(names, bd.ShortName)
	}
	return names
}
