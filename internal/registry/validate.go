package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/testprojbuilds/internal/config"
	"github.com/vk/testprojbuilds/internal/ctxlog"
)

// validate checks the structural rules that do not depend on which machine or
// builds are selected. All problems are reported at once.
func (r *Registry) validate(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	if r.model.Project == nil {
		errs = append(errs, "missing 'project' definition")
	} else if r.model.Project.Name == "" {
		errs = append(errs, "project: missing required field 'name'")
	}

	if len(r.model.Machines) == 0 {
		logger.Warn("No machines defined in configuration.")
	}
	for _, md := range r.model.Machines {
		if md.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: machine without a name", md.DeclRange))
		}
	}

	longNames := make(map[string]string, len(r.model.Builds))
	for _, bd := range r.model.Builds {
		if bd.ShortName == "" || bd.LongName == "" {
			errs = append(errs, fmt.Sprintf("%s: build requires both a short and a long name", bd.DeclRange))
			continue
		}
		// Long names name directories, so two builds must never share one.
		if other, ok := longNames[bd.LongName]; ok {
			errs = append(errs, fmt.Sprintf("builds %q and %q share long name %q", other, bd.ShortName, bd.LongName))
			continue
		}
		if strings.ContainsRune(bd.LongName, '/') {
			errs = append(errs, fmt.Sprintf("build %q: long name %q must not contain '/'", bd.ShortName, bd.LongName))
		}
		longNames[bd.LongName] = bd.ShortName
	}

	if len(errs) > 0 {
		return config.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
