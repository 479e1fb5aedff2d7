package reconcile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"reqsync/internal/config"
	"reqsync/internal/discovery"
	"reqsync/internal/enrich"
	"reqsync/internal/evidence"
	"reqsync/internal/model"
	"reqsync/internal/registry"
	"reqsync/internal/trace"
)

var syncTime = time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	root    string
	cfg     config.Config
	records model.EvidenceMap
	vitest  evidence.VitestReport
}

func newFixture(t *testing.T, core string) *fixture {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "requirements", "core.json"), core)
	return &fixture{
		root:    root,
		cfg:     config.Default(),
		records: model.EvidenceMap{},
		vitest:  evidence.VitestReport{Records: model.EvidenceMap{}, TestFiles: map[string][]string{}},
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func (f *fixture) load(t *testing.T) *registry.Registry {
	t.Helper()
	files, err := discovery.CollectRequirementFiles(f.root, f.cfg, nil)
	require.NoError(t, err)
	reg, err := registry.Load(files)
	require.NoError(t, err)
	evidence.NewClassifier(f.cfg.UITestGlobs).ClassifyAll(reg.Requirements())
	enrich.Apply(reg.Requirements(), f.records)
	return reg
}

func (f *fixture) sync(t *testing.T, prune bool) (*Result, *trace.Recorder) {
	t.Helper()
	rec := trace.NewRecorder()
	res, err := Sync(f.load(t), Options{
		Root:       f.root,
		PruneStale: prune,
		Now:        syncTime,
		Classifier: evidence.NewClassifier(f.cfg.UITestGlobs),
		Vitest:     f.vitest,
		Sink:       rec,
	})
	require.NoError(t, err)
	return res, rec
}

func (f *fixture) read(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(f.root, "requirements", "core.json"))
	require.NoError(t, err)
	return string(b)
}

const derivationFile = `{
  "_metadata": {"owner": "qa"},
  "requirements": [
    {
      "id": "REQ-1",
      "title": "Login",
      "status": "pending",
      "x_custom": [1, 2],
      "validation": [
        {"type": "test", "ref": "api/login_test.go", "status": "planned", "notes": "keep me"}
      ]
    },
    {
      "id": "REQ-2",
      "status": "in_progress",
      "validation": [{"type": "test", "ref": "api/x_test.go", "status": "implemented"}]
    }
  ]
}`

func TestSync_DerivesStatusesAndPreservesFields(t *testing.T) {
	f := newFixture(t, derivationFile)
	f.records.Add(model.EvidenceRecord{ID: "REQ-1", Status: model.LivePassed, Phase: "unit", Origin: model.OriginPhaseResults})
	f.records.Add(model.EvidenceRecord{ID: "REQ-2", Status: model.LiveFailed, Phase: "unit", Origin: model.OriginPhaseResults})

	res, rec := f.sync(t, false)
	assert.Equal(t, []string{"requirements/core.json"}, res.FilesWritten)
	assert.Equal(t, []StatusChange{
		{File: "requirements/core.json", RequirementID: "REQ-1", Ref: "api/login_test.go", From: "planned", To: "implemented"},
		{File: "requirements/core.json", RequirementID: "REQ-1", From: "pending", To: "complete"},
		{File: "requirements/core.json", RequirementID: "REQ-2", Ref: "api/x_test.go", From: "implemented", To: "failing"},
	}, res.StatusChanges)
	assert.Len(t, rec.Events(), 4)

	out := f.read(t)
	doc := gjson.Parse(out)
	assert.Equal(t, "complete", doc.Get("requirements.0.status").String())
	assert.Equal(t, "implemented", doc.Get("requirements.0.validation.0.status").String())
	assert.Equal(t, "keep me", doc.Get("requirements.0.validation.0.notes").String())
	assert.Equal(t, "[1,2]", strings.Join(strings.Fields(doc.Get("requirements.0.x_custom").Raw), ""))
	assert.Equal(t, "in_progress", doc.Get("requirements.1.status").String())
	assert.Equal(t, "failing", doc.Get("requirements.1.validation.0.status").String())
	assert.Equal(t, "qa", doc.Get("_metadata.owner").String())
	assert.Equal(t, "2024-04-01T09:30:00Z", doc.Get("_metadata.last_synced_at").String())

	assert.Less(t, strings.Index(out, `"title"`), strings.Index(out, `"status"`))
	assert.Less(t, strings.Index(out, `"status"`), strings.Index(out, `"x_custom"`))
	assert.True(t, strings.HasPrefix(out, "{\n  \"_metadata\": {\n    \"owner\": \"qa\""))
	assert.True(t, strings.HasSuffix(out, "}\n"))
}

func TestSync_IdempotentSecondRun(t *testing.T) {
	f := newFixture(t, derivationFile)
	f.records.Add(model.EvidenceRecord{ID: "REQ-1", Status: model.LivePassed, Phase: "unit", Origin: model.OriginPhaseResults})

	first, _ := f.sync(t, false)
	require.True(t, first.Changed())
	written := f.read(t)

	second, rec := f.sync(t, false)
	assert.False(t, second.Changed())
	assert.Empty(t, second.StatusChanges)
	assert.Empty(t, rec.Events())
	assert.Equal(t, written, f.read(t))
}

const pruneFile = `{
  "requirements": [
    {
      "id": "REQ-UI",
      "status": "pending",
      "validation": [
        {"type": "test", "ref": "ui/src/gone.test.tsx", "status": "not_implemented"},
        {"type": "test", "ref": "ui/src/here.test.tsx", "status": "not_implemented"}
      ]
    }
  ]
}`

func TestSync_OrphansReportedWithoutPrune(t *testing.T) {
	f := newFixture(t, pruneFile)
	writeFile(t, filepath.Join(f.root, "ui", "src", "here.test.tsx"), "test")

	res, _ := f.sync(t, false)
	assert.Equal(t, []Change{{File: "requirements/core.json", RequirementID: "REQ-UI", Ref: "ui/src/gone.test.tsx"}}, res.Orphaned)
	assert.Empty(t, res.Removed)
	assert.False(t, res.Changed())
}

func TestSync_PruneRemovesOrphans(t *testing.T) {
	f := newFixture(t, pruneFile)
	writeFile(t, filepath.Join(f.root, "ui", "src", "here.test.tsx"), "test")

	res, rec := f.sync(t, true)
	want := []Change{{File: "requirements/core.json", RequirementID: "REQ-UI", Ref: "ui/src/gone.test.tsx"}}
	assert.Equal(t, want, res.Orphaned)
	assert.Equal(t, want, res.Removed)
	assert.True(t, res.Changed())

	out := f.read(t)
	assert.NotContains(t, out, "gone.test.tsx")
	assert.Contains(t, out, "here.test.tsx")

	cl := rec.Log("g")
	assert.Equal(t, 1, cl.Count(trace.EventValidationOrphaned))
	assert.Equal(t, 1, cl.Count(trace.EventValidationRemoved))
	assert.Equal(t, 1, cl.Count(trace.EventFileWritten))
}

func TestSync_PruneKeepsNonTestValidations(t *testing.T) {
	f := newFixture(t, `{"requirements": [{"id": "REQ-FLOW", "status": "pending", "validation": [
  {"type": "automation", "ref": "ui/src/flows/login.test.tsx", "workflow_id": "login-flow"}
]}]}`)

	res, rec := f.sync(t, true)
	assert.Empty(t, res.Orphaned)
	assert.Empty(t, res.Removed)
	assert.Contains(t, f.read(t), "ui/src/flows/login.test.tsx")

	cl := rec.Log("g")
	assert.Zero(t, cl.Count(trace.EventValidationOrphaned))
	assert.Zero(t, cl.Count(trace.EventValidationRemoved))
}

func TestSync_AddsVitestValidations(t *testing.T) {
	f := newFixture(t, `{"requirements": [{"id": "REQ-1", "status": "pending"}]}`)
	writeFile(t, filepath.Join(f.root, "ui", "src", "new.test.tsx"), "test")
	vitestRec := model.EvidenceRecord{ID: "REQ-1", Status: model.LivePassed, Phase: "unit", Origin: model.OriginVitest, Evidence: "src/new.test.tsx"}
	f.vitest.Records.Add(vitestRec)
	f.vitest.TestFiles["REQ-1"] = []string{"ui/src/new.test.tsx", "ui/src/missing.test.tsx"}
	f.records.Add(vitestRec)

	res, _ := f.sync(t, false)
	assert.Equal(t, []Change{{File: "requirements/core.json", RequirementID: "REQ-1", Ref: "ui/src/new.test.tsx"}}, res.Added)

	doc := gjson.Parse(f.read(t))
	assert.JSONEq(t,
		`[{"type":"test","ref":"ui/src/new.test.tsx","phase":"unit","status":"implemented"}]`,
		doc.Get("requirements.0.validation").Raw)
	assert.Equal(t, "complete", doc.Get("requirements.0.status").String())

	second, _ := f.sync(t, false)
	assert.Empty(t, second.Added)
	assert.False(t, second.Changed())
}

func TestDeriveValidationStatus(t *testing.T) {
	assert.Equal(t, model.ValidationImplemented, DeriveValidationStatus(model.LivePassed, model.ValidationFailing))
	assert.Equal(t, model.ValidationFailing, DeriveValidationStatus(model.LiveFailed, model.ValidationImplemented))
	assert.Equal(t, model.ValidationImplemented, DeriveValidationStatus(model.LiveSkipped, model.ValidationImplemented))
	assert.Equal(t, model.ValidationPlanned, DeriveValidationStatus(model.LiveSkipped, model.ValidationNone))
	assert.Equal(t, model.ValidationFailing, DeriveValidationStatus(model.LiveNotRun, model.ValidationFailing))
	assert.Equal(t, model.ValidationNone, DeriveValidationStatus(model.LiveUnknown, model.ValidationNone))
	assert.Equal(t, model.ValidationNotImplemented, DeriveValidationStatus(model.LiveNone, model.ValidationImplemented))
}

func TestDeriveRequirementStatus(t *testing.T) {
	impl, fail, plan := model.ValidationImplemented, model.ValidationFailing, model.ValidationPlanned
	assert.Equal(t, model.StatusPlanned, DeriveRequirementStatus(model.StatusPlanned, nil))
	assert.Equal(t, model.StatusInProgress, DeriveRequirementStatus(model.StatusComplete, []model.ValidationStatus{impl, fail}))
	assert.Equal(t, model.StatusComplete, DeriveRequirementStatus(model.StatusPending, []model.ValidationStatus{impl, impl}))
	assert.Equal(t, model.StatusInProgress, DeriveRequirementStatus(model.StatusNotImplemented, []model.ValidationStatus{impl, plan}))
	assert.Equal(t, model.StatusPlanned, DeriveRequirementStatus(model.StatusPlanned, []model.ValidationStatus{impl, plan}))
}
