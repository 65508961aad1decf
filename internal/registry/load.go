package registry

import (
	"context"
	"fmt"

	"github.com/vk/testprojbuilds/internal/config"
	"github.com/vk/testprojbuilds/internal/ctxlog"
)

// Load runs every loader over the configuration paths and merges what they
// found into one model. A path with no configuration at all is an error: the
// run has nothing to resolve a machine from.
func Load(ctx context.Context, loaders []config.Loader, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Registry loading definitions from configuration paths...", "paths", paths)

	models := make([]*config.Model, 0, len(loaders))
	for _, l := range loaders {
		m, err := l.Load(ctx, paths...)
		if err != nil {
			return nil, fmt.Errorf("loading configuration: %w", err)
		}
		models = append(models, m)
	}

	merged, err := config.Merge(models...)
	if err != nil {
		return nil, err
	}
	if merged.Project == nil && len(merged.Machines) == 0 && len(merged.Builds) == 0 {
		return nil, config.Errorf("no configuration found in %v", paths)
	}

	logger.Info("Configuration loaded.", "machines", len(merged.Machines), "builds", len(merged.Builds))
	return merged, nil
}
