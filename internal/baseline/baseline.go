// Package baseline tracks the reference outputs each build variant is
// compared against.
//
// Layout under the baseline root:
//
//	<root>/<long_name>/data/            reference files
//	<root>/<long_name>/baseline_git_sha commit the files were generated from
//
// A variant's baselines are present iff its data directory exists. The
// commit file is provenance only and is never used to decide freshness.
package baseline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/testprojbuilds/internal/ctxlog"
	"github.com/vk/testprojbuilds/internal/model"
)

const (
	dataDirName    = "data"
	provenanceName = "baseline_git_sha"

	// Baselines are shared by a project group, so everything created here is
	// group-writable regardless of the process umask.
	dirMode  fs.FileMode = 0o775
	fileMode fs.FileMode = 0o664
)

// MissingBaselinesError lists the variants whose baselines are absent when a
// run needs them.
type MissingBaselinesError struct {
	Root     string
	Variants []string
}

func (e *MissingBaselinesError) Error() string {
	return fmt.Sprintf("missing baselines in %s for builds: %s (generate them first with --generate)",
		e.Root, strings.Join(e.Variants, ", "))
}

// Manager owns one baseline root directory.
type Manager struct {
	root string
}

// NewManager returns a manager for root, which must be an absolute path.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// VariantDir is the variant's directory under the root.
func (m *Manager) VariantDir(v *model.BuildVariant) string {
	return filepath.Join(m.root, v.LongName)
}

// DataDir holds the variant's reference files.
func (m *Manager) DataDir(v *model.BuildVariant) string {
	return filepath.Join(m.VariantDir(v), dataDirName)
}

// CheckPresent sets BaselinesMissing on every baseline-using variant and
// returns the ones missing, in input order. Variants that do not use
// baselines are never reported. It only reads the filesystem.
func (m *Manager) CheckPresent(ctx context.Context, variants []*model.BuildVariant) []*model.BuildVariant {
	logger := ctxlog.FromContext(ctx)
	var missing []*model.BuildVariant
	for _, v := range variants {
		if !v.UsesBaselines {
			v.BaselinesMissing = false
			continue
		}
		info, err := os.Stat(m.DataDir(v))
		v.BaselinesMissing = err != nil || !info.IsDir()
		if v.BaselinesMissing {
			missing = append(missing, v)
			logger.Debug("Baselines missing.", "build", v.LongName, "dir", m.DataDir(v))
			continue
		}
		if sha, err := m.Provenance(v); err == nil {
			logger.Debug("Baselines present.", "build", v.LongName, "generated_from", sha)
		}
	}
	return missing
}

// RequirePresent fails with a MissingBaselinesError naming every
// baseline-using variant whose baselines are absent.
func (m *Manager) RequirePresent(ctx context.Context, variants []*model.BuildVariant) error {
	missing := m.CheckPresent(ctx, variants)
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for _, v := range missing {
		names = append(names, v.LongName)
	}
	return &MissingBaselinesError{Root: m.root, Variants: names}
}

// RecordGeneration marks the variant's baselines fresh and writes the commit
// they were generated from. The flag is cleared even if the write fails; the
// error is returned for the caller to report.
func (m *Manager) RecordGeneration(ctx context.Context, v *model.BuildVariant, commit string) error {
	v.BaselinesMissing = false
	if commit == "" {
		ctxlog.FromContext(ctx).Warn("No commit known, baseline provenance not recorded.", "build", v.LongName)
		return nil
	}
	if err := mkdirShared(m.VariantDir(v)); err != nil {
		return err
	}
	path := filepath.Join(m.VariantDir(v), provenanceName)
	if err := writeShared(path, strings.NewReader(commit+"\n")); err != nil {
		return fmt.Errorf("recording baseline provenance: %w", err)
	}
	return nil
}

// Provenance returns the recorded commit for the variant's baselines.
func (m *Manager) Provenance(v *model.BuildVariant) (string, error) {
	data, err := os.ReadFile(filepath.Join(m.VariantDir(v), provenanceName))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// CollectGeneratedFiles copies every file listed in the manifest into the
// variant's data directory, keeping only base names. The manifest path and
// relative entries are resolved against buildDir; blank lines are skipped.
// A failed copy stops the collection and leaves what was already copied.
// It returns the number of files copied.
func (m *Manager) CollectGeneratedFiles(ctx context.Context, v *model.BuildVariant, buildDir, manifest string) (int, error) {
	logger := ctxlog.FromContext(ctx)
	if !filepath.IsAbs(manifest) {
		manifest = filepath.Join(buildDir, manifest)
	}

	entries, err := readManifest(manifest)
	if err != nil {
		return 0, err
	}

	dest := m.DataDir(v)
	if err := mkdirShared(dest); err != nil {
		return 0, err
	}

	copied := 0
	for _, src := range entries {
		if !filepath.IsAbs(src) {
			src = filepath.Join(buildDir, src)
		}
		dst := filepath.Join(dest, filepath.Base(src))
		if err := copyShared(src, dst); err != nil {
			return copied, fmt.Errorf("collecting baselines for %s: %w", v.LongName, err)
		}
		copied++
		logger.Debug("Baseline file collected.", "build", v.LongName, "src", src, "dst", dst)
	}
	logger.Info("Baseline files collected.", "build", v.LongName, "count", copied, "dir", dest)
	return copied, nil
}

func readManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening baseline manifest: %w", err)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			entries = append(entries, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading baseline manifest %s: %w", path, err)
	}
	return entries, nil
}

// mkdirShared creates dir and any missing parents. Concurrent callers
// creating the same tree do not fail each other.
func mkdirShared(dir string) error {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	// MkdirAll is subject to the umask; the leaf is forced explicitly.
	if err := os.Chmod(dir, dirMode); err != nil && !errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("setting permissions on %s: %w", dir, err)
	}
	return nil
}

func copyShared(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeShared(dst, in)
}

func writeShared(path string, r io.Reader) (err error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err = io.Copy(out, r); err != nil {
		return err
	}
	return out.Chmod(fileMode)
}
