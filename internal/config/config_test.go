package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "coverage/requirements-sync/latest.json", cfg.SnapshotPath)
	assert.Equal(t, 30, cfg.ManualExpiryDays)
	assert.Equal(t, DefaultRequiredPhases, cfg.RequiredPhases)
}

func TestLoad_FileOverridesAndDefaultsFillGaps(t *testing.T) {
	root := t.TempDir()
	content := `required_phases: [unit, integration]
manual_expiry_days: 14
exclude_globs:
  - requirements/drafts/**
`
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(content), 0o644))

	cfg, err := Load(root, noEnv)
	require.NoError(t, err)
	assert.Equal(t, []string{"unit", "integration"}, cfg.RequiredPhases)
	assert.Equal(t, 14, cfg.ManualExpiryDays)
	assert.Equal(t, []string{"requirements/drafts/**"}, cfg.ExcludeGlobs)
	assert.Equal(t, "coverage/phase-results", cfg.PhaseResultsDir)
}

func TestLoad_EnvOverridesLedger(t *testing.T) {
	env := func(k string) string {
		if k == EnvManualLedger {
			return "/tmp/ledger.jsonl"
		}
		return ""
	}
	cfg, err := Load(t.TempDir(), env)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ledger.jsonl", cfg.ManualLedger)
}

func TestLoad_InvalidYAML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("required_phases: [unit\n"), 0o644))
	_, err := Load(root, noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing .reqsync.yaml")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_InvalidSettings(t *testing.T) {
	root := t.TempDir()
	content := "required_phases: [unit, \"\"]\nexclude_globs: [\"requirements/[\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(content), 0o644))
	_, err := Load(root, noEnv)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "required_phases[1] is empty")
	assert.Contains(t, err.Error(), "exclude_globs[0]")
}

func TestResolve(t *testing.T) {
	assert.Equal(t, filepath.Join("/s", "coverage", "x.json"), Resolve("/s", "coverage/x.json"))
	assert.Equal(t, "/abs/x.json", Resolve("/s", "/abs/x.json"))
}
