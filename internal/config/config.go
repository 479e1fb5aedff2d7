// Package config holds the per-scenario settings of reqsync.
//
// Scenarios either rely on the defaults or place a .reqsync.yaml at the
// scenario root. All paths are relative to the scenario root.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// FileName is the optional per-scenario configuration file.
const FileName = ".reqsync.yaml"

// ErrInvalid marks a configuration file that exists but cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Environment variables read by reqsync.
const (
	EnvRoot              = "REQSYNC_ROOT"
	EnvLegacyRoot        = "VROOLI_ROOT"
	EnvManualLedger      = "REQSYNC_MANUAL_LEDGER"
	EnvTestPhases        = "REQSYNC_TEST_PHASES"
	EnvPhaseStatuses     = "REQSYNC_PHASE_STATUSES"
	EnvAllowPartialSync  = "REQSYNC_ALLOW_PARTIAL_SYNC"
	defaultExpiryDays    = 30
	defaultSnapshotPath  = "coverage/requirements-sync/latest.json"
	defaultPhaseResults  = "coverage/phase-results"
	defaultVitestReport  = "ui/coverage/vitest-requirements.json"
	defaultManualLedger  = "coverage/manual-validations/log.jsonl"
	defaultPRDPath       = "PRD.md"
	defaultRequirements  = "requirements"
)

// DefaultRequiredPhases are the phases a full test-suite run executes.
var DefaultRequiredPhases = []string{"structure", "dependencies", "unit", "integration", "business", "performance"}

// DefaultUITestGlobs match unit tests inside the scenario UI project.
var DefaultUITestGlobs = []string{
	"ui/src/**/*.test.{ts,tsx,js,jsx}",
	"ui/src/**/*.spec.{ts,tsx,js,jsx}",
	"ui/**/__tests__/**/*.{ts,tsx,js,jsx}",
}

// Config holds all reqsync settings for one scenario.
type Config struct {
	// RequirementsDir is the requirement registry folder (default "requirements").
	RequirementsDir string `yaml:"requirements_dir"`

	// PhaseResultsDir holds one JSON file per executed test phase.
	PhaseResultsDir string `yaml:"phase_results_dir"`

	// VitestReport is the per-test-file requirement evidence report.
	VitestReport string `yaml:"vitest_report"`

	// SnapshotPath is where sync materializes the reconciled state.
	SnapshotPath string `yaml:"snapshot_path"`

	// ManualLedger is the append-only JSONL attestation log.
	// REQSYNC_MANUAL_LEDGER overrides it.
	ManualLedger string `yaml:"manual_ledger"`

	// PRDPath is the markdown document carrying the operational-target checklist.
	PRDPath string `yaml:"prd_path"`

	// RequiredPhases must all have run before sync may write anything.
	RequiredPhases []string `yaml:"required_phases"`

	// UITestGlobs are doublestar patterns locating UI unit tests.
	UITestGlobs []string `yaml:"ui_test_globs"`

	// ExcludeGlobs are doublestar patterns skipped by the requirements walk.
	ExcludeGlobs []string `yaml:"exclude_globs"`

	// ManualExpiryDays is the default validity window of a manual attestation.
	ManualExpiryDays int `yaml:"manual_expiry_days"`
}

// Default returns a Config with every default applied.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.RequirementsDir == "" {
		c.RequirementsDir = defaultRequirements
	}
	if c.PhaseResultsDir == "" {
		c.PhaseResultsDir = defaultPhaseResults
	}
	if c.VitestReport == "" {
		c.VitestReport = defaultVitestReport
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = defaultSnapshotPath
	}
	if c.ManualLedger == "" {
		c.ManualLedger = defaultManualLedger
	}
	if c.PRDPath == "" {
		c.PRDPath = defaultPRDPath
	}
	if len(c.RequiredPhases) == 0 {
		c.RequiredPhases = append([]string(nil), DefaultRequiredPhases...)
	}
	if len(c.UITestGlobs) == 0 {
		c.UITestGlobs = append([]string(nil), DefaultUITestGlobs...)
	}
	if c.ManualExpiryDays <= 0 {
		c.ManualExpiryDays = defaultExpiryDays
	}
}

// applyEnv applies environment overrides. getenv is injected so tests stay
// hermetic.
func (c *Config) applyEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvManualLedger)); v != "" {
		c.ManualLedger = v
	}
}

// Load reads <root>/.reqsync.yaml when present, applies defaults and then
// environment overrides. A missing file is not an error.
func Load(root string, getenv func(string) string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(filepath.Join(root, FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parsing %s: %v", ErrInvalid, FileName, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("%w: reading %s: %v", ErrInvalid, FileName, err)
	}
	cfg.applyDefaults()
	cfg.applyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, FileName, err)
	}
	return cfg, nil
}

// Validate reports every unusable setting at once.
func (c Config) Validate() error {
	var errs []error
	for i, p := range c.RequiredPhases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("required_phases[%d] is empty", i))
		}
	}
	for _, f := range []struct {
		name  string
		globs []string
	}{{"ui_test_globs", c.UITestGlobs}, {"exclude_globs", c.ExcludeGlobs}} {
		for i, g := range f.globs {
			if !doublestar.ValidatePattern(g) {
				errs = append(errs, fmt.Errorf("%s[%d] is not a valid pattern: %q", f.name, i, g))
			}
		}
	}
	return errors.Join(errs...)
}

// Resolve joins a configured path onto the scenario root unless it is
// already absolute.
func Resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, filepath.FromSlash(p))
}
