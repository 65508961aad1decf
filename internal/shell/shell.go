// Package shell runs external command lines through /bin/sh with a machine's
// environment-setup prologue.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/vk/testprojbuilds/internal/ctxlog"
)

// Command is one shell invocation.
type Command struct {
	// Line is the command line, interpreted by the shell.
	Line string
	// Dir is the working directory; empty means the current one.
	Dir string
	// EnvSetup statements run before Line, joined with &&, so a failing
	// setup step fails the command.
	EnvSetup []string
	// LogPath, when set, receives combined stdout and stderr. The file is
	// truncated first.
	LogPath string
	// Tee, when set, also receives the combined output.
	Tee io.Writer
}

// Script returns the full script handed to the shell.
func (c Command) Script() string {
	return Compose(c.EnvSetup, c.Line)
}

// Runner executes commands. Implementations report a non-zero exit as a code,
// not an error; the error is reserved for commands that could not run at all.
type Runner interface {
	Run(ctx context.Context, cmd Command) (int, error)
	// Output runs the command and returns its trimmed stdout. A non-zero
	// exit is an error.
	Output(ctx context.Context, cmd Command) (string, error)
}

// Compose prefixes line with the setup statements.
func Compose(envSetup []string, line string) string {
	parts := make([]string, 0, len(envSetup)+1)
	for _, s := range envSetup {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, line)
	return strings.Join(parts, " && ")
}

// Exec is the Runner backed by os/exec.
type Exec struct {
	shell string
}

// NewExec returns a runner using /bin/sh.
func NewExec() *Exec {
	return &Exec{shell: "/bin/sh"}
}

func (e *Exec) command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, e.shell, "-c", c.Script())
	cmd.Dir = c.Dir
	cmd.Env = os.Environ()
	return cmd
}

func (e *Exec) Run(ctx context.Context, c Command) (int, error) {
	logger := ctxlog.FromContext(ctx)
	cmd := e.command(ctx, c)

	var writers []io.Writer
	if c.LogPath != "" {
		f, err := os.Create(c.LogPath)
		if err != nil {
			return -1, fmt.Errorf("creating log file: %w", err)
		}
		defer f.Close()
		writers = append(writers, f)
	}
	if c.Tee != nil {
		writers = append(writers, c.Tee)
	}
	if len(writers) > 0 {
		out := io.MultiWriter(writers...)
		cmd.Stdout = out
		cmd.Stderr = out
	}

	logger.Debug("Exec.", "cmd", c.Line, "dir", c.Dir, "log", c.LogPath)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		logger.Debug("Command exited non-zero.", "cmd", c.Line, "code", exitErr.ExitCode())
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("running %q: %w", c.Line, err)
}

func (e *Exec) Output(ctx context.Context, c Command) (string, error) {
	cmd := e.command(ctx, c)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	ctxlog.FromContext(ctx).Debug("Exec.", "cmd", c.Line, "dir", c.Dir)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("running %q: %w: %s", c.Line, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}
