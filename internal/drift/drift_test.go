package drift

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqsync/internal/config"
	"reqsync/internal/discovery"
	"reqsync/internal/manual"
	"reqsync/internal/model"
	"reqsync/internal/prd"
	"reqsync/internal/registry"
	"reqsync/internal/rollup"
	"reqsync/internal/snapshot"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// syncScenario writes a snapshot of root as it is now, stamped at syncedAt.
func syncScenario(t *testing.T, root string, syncedAt time.Time) {
	t.Helper()
	cfg := config.Default()
	files, err := discovery.CollectRequirementFiles(root, cfg, nil)
	require.NoError(t, err)
	reg, err := registry.Load(files)
	require.NoError(t, err)
	g := rollup.New(reg.Requirements(), nil)
	rollup.Apply(g)
	snap, err := snapshot.Build(snapshot.Input{Scenario: "demo", Root: root, SyncedAt: syncedAt, Registry: reg, Graph: g})
	require.NoError(t, err)
	require.NoError(t, snapshot.Write(config.Resolve(root, cfg.SnapshotPath), snap))
}

func TestRun_MissingSnapshot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "requirements", "core.json"), `{"requirements": []}`)

	r, err := Run("demo", root, config.Default(), time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusMissingSnapshot, r.Status)
	assert.Equal(t, 1, r.IssueCount)
	assert.NotEmpty(t, r.Remediation)
	assert.True(t, r.HasFindings())
}

func TestRun_CleanAfterSync(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "requirements", "core.json"), `{"requirements": [{"id": "REQ-1", "status": "complete"}]}`)
	syncScenario(t, root, time.Now().Add(time.Hour))

	r, err := Run("demo", root, config.Default(), time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, r.Status)
	assert.Zero(t, r.IssueCount)
	assert.True(t, r.Targets.Skipped)
	assert.False(t, r.HasFindings())
}

func TestRun_FileDrift(t *testing.T) {
	root := t.TempDir()
	core := filepath.Join(root, "requirements", "core.json")
	old := filepath.Join(root, "requirements", "old.json")
	writeFile(t, core, `{"requirements": [{"id": "REQ-1", "status": "complete"}]}`)
	writeFile(t, old, `{"requirements": [{"id": "REQ-2", "status": "complete"}]}`)
	syncScenario(t, root, time.Now().Add(time.Hour))

	before, _, err := snapshot.HashFile(core)
	require.NoError(t, err)
	writeFile(t, core, `{"requirements": [{"id": "REQ-1", "status": "pending"}]}`)
	after, _, err := snapshot.HashFile(core)
	require.NoError(t, err)
	require.NoError(t, os.Remove(old))
	writeFile(t, filepath.Join(root, "requirements", "extra.json"), `{"requirements": []}`)

	r, err := Run("demo", root, config.Default(), time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDriftDetected, r.Status)
	assert.Equal(t, []FileMismatch{{File: "requirements/core.json", SnapshotHash: before, CurrentHash: after}}, r.Files.Mismatched)
	assert.Equal(t, []string{"requirements/extra.json"}, r.Files.NewFiles)
	assert.Equal(t, []string{"requirements/old.json"}, r.Files.MissingFromDisk)
	assert.Equal(t, 3, r.IssueCount)
}

func TestRun_ArtifactStale(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "requirements", "core.json"), `{"requirements": []}`)
	syncedAt := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	syncScenario(t, root, syncedAt)

	phase := filepath.Join(root, "coverage", "phase-results", "unit.json")
	writeFile(t, phase, `{"phase": "unit", "requirements": []}`)
	later := syncedAt.Add(2 * time.Hour)
	require.NoError(t, os.Chtimes(phase, later, later))

	r, err := Run("demo", root, config.Default(), syncedAt.Add(3*time.Hour), nil)
	require.NoError(t, err)
	assert.True(t, r.Artifacts.Stale)
	assert.Equal(t, phase, r.Artifacts.NewestArtifact)
	assert.True(t, r.Artifacts.NewestModTime.Equal(later))
	assert.Equal(t, 1, r.IssueCount)
}

func TestCheck_TargetDrift(t *testing.T) {
	snap := &snapshot.Snapshot{
		SyncedAt: time.Now().Add(time.Hour),
		OperationalTargets: []snapshot.Target{
			{ID: "OT-P0-001", Status: "complete"},
			{ID: "OT-P0-002", Status: "in_progress"},
			{ID: "OT-P1-003", Status: "pending"},
			{ID: "OT-P2-004", Status: "pending"},
			{ID: "folder:auth", Status: "pending"},
		},
	}
	checklist := prd.Parse([]byte(`- [x] OT-P0-001 a
- [x] OT-P0-002 b
- [ ] OT-P1-003 c
- [ ] OT-P1-009 d
`))
	checklist.Path = "PRD.md"

	r, err := Check(Input{Snapshot: snap, PRD: checklist})
	require.NoError(t, err)
	assert.False(t, r.Targets.Skipped)
	assert.Equal(t, []TargetMismatch{{Target: "OT-P0-002", SnapshotStatus: "in_progress", PRDStatus: "complete"}}, r.Targets.StatusMismatches)
	assert.Equal(t, []string{"OT-P1-009"}, r.Targets.MissingFromSnapshot)
	assert.Equal(t, []string{"OT-P2-004"}, r.Targets.MissingFromPRD)
	assert.Equal(t, 3, r.IssueCount)
}

func TestCheck_ManualDrift(t *testing.T) {
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	snap := &snapshot.Snapshot{
		SyncedAt: now.Add(time.Hour),
		ManualValidations: snapshot.ManualDigest{Entries: []snapshot.ManualEntry{
			{RequirementID: "REQ-OLD", ValidatedAt: now.Add(-60 * day)},
			{RequirementID: "REQ-NEW", ValidatedAt: now.Add(-10 * day)},
		}},
	}
	ledger := &manual.Ledger{Latest: map[string]manual.Entry{
		"REQ-OLD": {RequirementID: "REQ-OLD", Status: model.LivePassed, ValidatedAt: now.Add(-60 * day), ExpiresAt: now.Add(-30 * day), ValidatedBy: "ana"},
		"REQ-NEW": {RequirementID: "REQ-NEW", Status: model.LivePassed, ValidatedAt: now.Add(-2 * day), ExpiresAt: now.Add(28 * day), ValidatedBy: "ana"},
		"REQ-BARE": {RequirementID: "REQ-BARE", Status: model.LivePassed},
	}}

	doc := &registry.Document{
		File: discovery.File{Rel: "requirements/core.json"},
		Requirements: []*model.Requirement{
			{ID: "REQ-OLD", Validations: []*model.Validation{{Type: model.TypeManual}}},
			{ID: "REQ-UNLOGGED", Validations: []*model.Validation{{Type: model.TypeManual}}},
			{ID: "REQ-AUTO", Validations: []*model.Validation{{Type: model.TypeTest, Ref: "a_test.go"}}},
		},
	}
	reg, err := registry.New([]*registry.Document{doc})
	require.NoError(t, err)

	r, err := Check(Input{Snapshot: snap, Ledger: ledger, Registry: reg, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []ExpiredEntry{{RequirementID: "REQ-OLD", ExpiresAt: now.Add(-30 * day)}}, r.Manual.Expired)
	assert.Equal(t, []MetadataIssue{{RequirementID: "REQ-BARE", Fields: []string{"validated_at", "expires_at", "validated_by"}}}, r.Manual.MissingMetadata)
	assert.Equal(t, []string{"REQ-UNLOGGED"}, r.Manual.MissingFromManifest)
	assert.Equal(t, []string{"REQ-BARE", "REQ-NEW"}, r.Manual.Stale)
	assert.Equal(t, 5, r.IssueCount)
	assert.Equal(t, StatusDriftDetected, r.Status)
}

func TestCheck_ManualDriftAfterLedgerEmptied(t *testing.T) {
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	snap := &snapshot.Snapshot{
		SyncedAt: now,
		ManualValidations: snapshot.ManualDigest{Entries: []snapshot.ManualEntry{
			{RequirementID: "REQ-1", Status: "passed", ValidatedAt: now.Add(-day), ExpiresAt: now.Add(day)},
		}},
	}
	empty := &manual.Ledger{Latest: map[string]manual.Entry{}}

	r, err := Check(Input{Snapshot: snap, Ledger: empty, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{"REQ-1"}, r.Manual.MissingFromManifest)
	assert.Empty(t, r.Manual.Expired)
	assert.Equal(t, 1, r.IssueCount)
	assert.Equal(t, StatusDriftDetected, r.Status)

	r, err = Check(Input{Snapshot: snap, Ledger: empty, Now: now.Add(2 * day)})
	require.NoError(t, err)
	assert.Equal(t, []string{"REQ-1"}, r.Manual.MissingFromManifest)
	assert.Equal(t, []ExpiredEntry{{RequirementID: "REQ-1", ExpiresAt: now.Add(day)}}, r.Manual.Expired)
	assert.Equal(t, 2, r.IssueCount)
}

func TestCheck_ManualDriftCountsLedgerExpiryOnce(t *testing.T) {
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	expires := now.Add(-time.Hour)
	snap := &snapshot.Snapshot{
		SyncedAt: now,
		ManualValidations: snapshot.ManualDigest{Entries: []snapshot.ManualEntry{
			{RequirementID: "REQ-1", ValidatedAt: now.Add(-48 * time.Hour), ExpiresAt: expires},
		}},
	}
	ledger := &manual.Ledger{Latest: map[string]manual.Entry{
		"REQ-1": {RequirementID: "REQ-1", Status: model.LivePassed, ValidatedAt: now.Add(-48 * time.Hour), ExpiresAt: expires, ValidatedBy: "ana"},
	}}

	r, err := Check(Input{Snapshot: snap, Ledger: ledger, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []ExpiredEntry{{RequirementID: "REQ-1", ExpiresAt: expires}}, r.Manual.Expired)
	assert.Empty(t, r.Manual.MissingFromManifest)
	assert.Equal(t, 1, r.IssueCount)
}
