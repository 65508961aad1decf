// Package gitinfo reads commit metadata of the source tree under test.
package gitinfo

import (
	"context"

	"github.com/vk/testprojbuilds/internal/shell"
)

// Repo is a git work tree.
type Repo struct {
	dir    string
	runner shell.Runner
}

func New(dir string, runner shell.Runner) *Repo {
	return &Repo{dir: dir, runner: runner}
}

// CurrentSHA returns the commit of HEAD, abbreviated when short is true.
func (r *Repo) CurrentSHA(ctx context.Context, short bool) (string, error) {
	line := "git rev-parse HEAD"
	if short {
		line = "git rev-parse --short HEAD"
	}
	return r.runner.Output(ctx, shell.Command{Line: line, Dir: r.dir})
}

// CurrentRef returns the checked-out branch, or "HEAD" when detached.
func (r *Repo) CurrentRef(ctx context.Context) (string, error) {
	return r.runner.Output(ctx, shell.Command{Line: "git rev-parse --abbrev-ref HEAD", Dir: r.dir})
}
