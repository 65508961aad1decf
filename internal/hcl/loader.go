package hcl

import (
	"context"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/testprojbuilds/internal/config"
	"github.com/vk/testprojbuilds/internal/ctxlog"
	"github.com/vk/testprojbuilds/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file found under paths, in sorted path order, and
// merges the resulting definitions into one model.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.FindFilesByExtension(paths, ".hcl")
	if err != nil {
		return nil, config.Errorf("failed to discover HCL files: %w", err)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	models := make([]*config.Model, 0, len(files))

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, config.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, config.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		m, err := l.translate(ctx, &root)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
		logger.Debug("Loaded HCL file.", "file", file, "machines", len(m.Machines), "builds", len(m.Builds))
	}

	merged, err := config.Merge(models...)
	if err != nil {
		return nil, err
	}
	logger.Debug("HCL loading complete.", "machines", len(merged.Machines), "builds", len(merged.Builds))
	return merged, nil
}
