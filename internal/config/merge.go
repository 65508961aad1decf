package config

// Merge folds several models (one per configuration source) into one.
// Declaration order is preserved: models are consumed in argument order and
// their machines and builds are appended in their own order. Duplicate names
// and multiple project definitions are configuration errors.
func Merge(models ...*Model) (*Model, error) {
	merged := &Model{}
	machines := make(map[string]*MachineDefinition)
	builds := make(map[string]*BuildDefinition)

	for _, m := range models {
		if m == nil {
			continue
		}
		if m.Project != nil {
			if merged.Project != nil {
				return nil, Errorf("project defined more than once (%s and %s)", merged.Project.DeclRange, m.Project.DeclRange)
			}
			merged.Project = m.Project
		}
		for _, mach := range m.Machines {
			if prev, ok := machines[mach.Name]; ok {
				return nil, Errorf("machine %q defined more than once (%s and %s)", mach.Name, prev.DeclRange, mach.DeclRange)
			}
			machines[mach.Name] = mach
			merged.Machines = append(merged.Machines, mach)
		}
		for _, b := range m.Builds {
			if prev, ok := builds[b.ShortName]; ok {
				return nil, Errorf("build %q defined more than once (%s and %s)", b.ShortName, prev.DeclRange, b.DeclRange)
			}
			builds[b.ShortName] = b
			merged.Builds = append(merged.Builds, b)
		}
	}
	return merged, nil
}
