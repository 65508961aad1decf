package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vk/testprojbuilds/internal/model"
)

// Config holds everything an App needs for one run.
type Config struct {
	Machine string
	Builds  []string

	Submit     bool
	Parallel   bool
	Generate   bool
	NoBuild    bool
	NoRun      bool
	QuickRerun bool

	BaselineDir string
	RootDir     string
	WorkDir     string
	ConfigDir   string // hcl and yaml files

	// CMakeArgs are raw NAME=VALUE overrides; NewConfig parses them into
	// Overrides.
	CMakeArgs []string
	Overrides []model.Option

	TestRegex  string
	TestLabels string

	Verbose    bool
	LogFormat  string
	LogLevel   string
	StatusPort int

	EventsURL       string
	EventsNamespace string
	EventsInsecure  bool // skip TLS verification
}

// NewConfig validates cfg and fills in derived values.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.Machine == "" {
		return nil, errors.New("a machine name is required (--machine)")
	}
	if cfg.RootDir == "" || cfg.WorkDir == "" {
		return nil, errors.New("root and work directories cannot be empty")
	}
	if cfg.Submit && cfg.Generate {
		return nil, errors.New("cannot submit results while generating baselines")
	}
	if cfg.Generate && cfg.BaselineDir == "" {
		return nil, errors.New("baseline generation needs a baseline directory (--baseline-dir PATH or AUTO)")
	}
	if cfg.Generate && (cfg.NoBuild || cfg.NoRun) {
		return nil, errors.New("baseline generation needs the build and test phases; drop --no-build and --no-run")
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = filepath.Join(cfg.RootDir, "scripts")
	}

	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}
	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}

	if cfg.StatusPort < 0 || cfg.StatusPort > 65535 {
		return nil, fmt.Errorf("invalid status port %d", cfg.StatusPort)
	}

	overrides, err := ParseOverrides(cfg.CMakeArgs)
	if err != nil {
		return nil, err
	}
	cfg.Overrides = overrides
	return &cfg, nil
}

// ParseOverrides parses NAME=VALUE pairs. The value may be empty or contain
// further '=' characters; the name may not be empty.
func ParseOverrides(pairs []string) ([]model.Option, error) {
	out := make([]model.Option, 0, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid cmake argument %q: expected NAME=VALUE", p)
		}
		if strings.Contains(value, `"`) {
			return nil, fmt.Errorf("invalid cmake argument %q: use single quotes instead of double quotes", p)
		}
		out = append(out, model.Option{Name: name, Value: value})
	}
	return out, nil
}
