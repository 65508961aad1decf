package resources

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// SpecFileName is the resource descriptor the test runner reads from the
// variant's build directory.
const SpecFileName = "ctest_resource_file.json"

// SpecFile is the test runner's resource specification. Only version 1.0 is
// understood by the runner.
type SpecFile struct {
	Version SpecVersion     `json:"version"`
	Local   []ResourceGroup `json:"local"`
}

type SpecVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

type ResourceGroup struct {
	Devices []Device `json:"devices"`
}

// Device ids are zero-padded to five digits so they sort the same
// alphabetically and numerically.
type Device struct {
	ID string `json:"id"`
}

// NewSpecFile describes one device per resource id, in the given order.
func NewSpecFile(ids []int) *SpecFile {
	devices := make([]Device, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, Device{ID: fmt.Sprintf("%05d", id)})
	}
	return &SpecFile{
		Version: SpecVersion{Major: 1, Minor: 0},
		Local:   []ResourceGroup{{Devices: devices}},
	}
}

// WriteSpecFile writes the descriptor for ids into dir and returns its path.
func WriteSpecFile(dir string, ids []int) (string, error) {
	data, err := json.MarshalIndent(NewSpecFile(ids), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding resource spec: %w", err)
	}
	path := filepath.Join(dir, SpecFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("writing resource spec: %w", err)
	}
	return path, nil
}

// ReadSpecFile parses a descriptor back.
func ReadSpecFile(path string) (*SpecFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading resource spec: %w", err)
	}
	var spec SpecFile
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decoding resource spec %s: %w", path, err)
	}
	return &spec, nil
}

// IDs returns the numeric ids of every device in the first group.
func (s *SpecFile) IDs() ([]int, error) {
	if len(s.Local) == 0 {
		return nil, nil
	}
	ids := make([]int, 0, len(s.Local[0].Devices))
	for _, d := range s.Local[0].Devices {
		id, err := strconv.Atoi(d.ID)
		if err != nil {
			return nil, fmt.Errorf("device id %q: %w", d.ID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
