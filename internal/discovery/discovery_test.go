package discovery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqsync/internal/config"
)

func mkdirs(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, os.MkdirAll(p, 0o755))
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveScenarioRoot_WalksUpward(t *testing.T) {
	base := t.TempDir()
	scenario := filepath.Join(base, "scenarios", "demo")
	deep := filepath.Join(scenario, "ui", "src", "components")
	mkdirs(t, filepath.Join(scenario, "test"), deep)

	got, err := ResolveScenarioRoot("demo", deep, nil)
	require.NoError(t, err)
	assert.Equal(t, scenario, got)

	got, err = ResolveScenarioRoot("demo", base, nil)
	require.NoError(t, err)
	assert.Equal(t, scenario, got)
}

func TestResolveScenarioRoot_ConventionalFallbackWithoutTestDir(t *testing.T) {
	base := t.TempDir()
	scenario := filepath.Join(base, "scenarios", "bare")
	mkdirs(t, scenario)

	got, err := ResolveScenarioRoot("bare", base, nil)
	require.NoError(t, err)
	assert.Equal(t, scenario, got)
}

func TestResolveScenarioRoot_EnvFallback(t *testing.T) {
	cwd := t.TempDir()
	legacy := t.TempDir()
	scenario := filepath.Join(legacy, "scenarios", "demo")
	mkdirs(t, scenario)

	env := func(k string) string {
		if k == config.EnvLegacyRoot {
			return legacy
		}
		return ""
	}
	got, err := ResolveScenarioRoot("demo", cwd, env)
	require.NoError(t, err)
	assert.Equal(t, scenario, got)
}

func TestResolveScenarioRoot_NotFound(t *testing.T) {
	_, err := ResolveScenarioRoot("ghost", t.TempDir(), func(string) string { return "" })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrScenarioNotFound))
	assert.Equal(t, "scenario not found: ghost", err.Error())
}

func TestCollectRequirementFiles_MissingFolder(t *testing.T) {
	_, err := CollectRequirementFiles(t.TempDir(), config.Default(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequirementsMissing))
}

func TestCollectRequirementFiles_IndexFirstThenSorted(t *testing.T) {
	root := t.TempDir()
	req := filepath.Join(root, "requirements")
	writeFile(t, filepath.Join(req, "index.json"), `{"imports":["zeta/z.json","missing.json"],"requirements":[]}`)
	writeFile(t, filepath.Join(req, "zeta", "z.json"), `{"requirements":[]}`)
	writeFile(t, filepath.Join(req, "b.json"), `{"requirements":[]}`)
	writeFile(t, filepath.Join(req, "a", "nested.json"), `{"requirements":[]}`)
	writeFile(t, filepath.Join(req, "notes.md"), "ignored")

	files, err := CollectRequirementFiles(root, config.Default(), nil)
	require.NoError(t, err)

	var rels []string
	for _, f := range files {
		rels = append(rels, f.Rel)
	}
	assert.Equal(t, []string{
		"requirements/index.json",
		"requirements/a/nested.json",
		"requirements/b.json",
		"requirements/zeta/z.json",
	}, rels)
	assert.True(t, files[0].Index)
	assert.False(t, files[1].Index)
}

func TestCollectRequirementFiles_ExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	req := filepath.Join(root, "requirements")
	writeFile(t, filepath.Join(req, "keep.json"), `{}`)
	writeFile(t, filepath.Join(req, "drafts", "wip.json"), `{}`)

	cfg := config.Default()
	cfg.ExcludeGlobs = []string{"requirements/drafts/**"}
	files, err := CollectRequirementFiles(root, cfg, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "requirements/keep.json", files[0].Rel)
}
