package cli

import (
	"time"

	"go.uber.org/zap"

	"reqsync/internal/config"
	"reqsync/internal/discovery"
	"reqsync/internal/enrich"
	"reqsync/internal/evidence"
	"reqsync/internal/manual"
	"reqsync/internal/model"
	"reqsync/internal/registry"
	"reqsync/internal/rollup"
	"reqsync/internal/trace"
)

// scenario is one fully loaded, enriched and rolled-up scenario.
type scenario struct {
	Name       string
	Root       string
	Config     config.Config
	Files      []discovery.File
	Registry   *registry.Registry
	Evidence   *evidence.Set
	Ledger     *manual.Ledger
	Classifier *evidence.Classifier
	Graph      *rollup.Graph
	Recorder   *trace.Recorder
}

// loadScenario runs discovery, parsing, evidence loading, enrichment and
// rollup. Evidence selections are recorded on the scenario's trace recorder.
func loadScenario(name, root string, cfg config.Config, now time.Time, log *zap.Logger) (*scenario, error) {
	sc := &scenario{Name: name, Root: root, Config: cfg, Recorder: trace.NewRecorder()}

	files, err := discovery.CollectRequirementFiles(root, cfg, log)
	if err != nil {
		return nil, err
	}
	sc.Files = files
	if sc.Registry, err = registry.Load(files); err != nil {
		return nil, err
	}
	log.Debug("requirements loaded", zap.Int("files", len(files)), zap.Int("requirements", sc.Registry.Len()))

	sc.Classifier = evidence.NewClassifier(cfg.UITestGlobs)
	sc.Classifier.ClassifyAll(sc.Registry.Requirements())

	if sc.Evidence, err = evidence.Load(root, cfg, log); err != nil {
		return nil, err
	}
	if sc.Ledger, err = manual.Load(config.Resolve(root, cfg.ManualLedger), log); err != nil {
		return nil, err
	}
	sc.Evidence.Records.Merge(manual.Records(sc.Ledger, now))

	for _, s := range enrich.Apply(sc.Registry.Requirements(), sc.Evidence.Records) {
		sc.recordSelection(s)
	}

	sc.Graph = rollup.New(sc.Registry.Requirements(), log)
	rollup.Apply(sc.Graph)
	for _, c := range sc.Graph.Cycles() {
		log.Warn("requirement cycle", zap.Strings("path", c))
	}
	return sc, nil
}

func (sc *scenario) recordSelection(s enrich.Selection) {
	prov, _ := sc.Registry.Provenance(s.RequirementID)
	ev := trace.Event{
		Kind:          trace.EventEvidenceSelected,
		File:          prov.Rel,
		RequirementID: s.RequirementID,
		To:            string(s.Record.Status),
		Reason:        selectionReason(s.Record),
	}
	if r, ok := sc.Registry.Get(s.RequirementID); ok && s.ValidationIndex >= 0 && s.ValidationIndex < len(r.Validations) {
		v := r.Validations[s.ValidationIndex]
		ev.Ref = v.Ref
		if ev.Ref == "" {
			ev.Ref = v.WorkflowID
		}
	}
	sc.Recorder.Record(ev)
}

func selectionReason(rec model.EvidenceRecord) string {
	if rec.Phase != "" {
		return "phase:" + rec.Phase
	}
	return "origin:" + string(rec.Origin)
}

// rerollup recomputes the rollups after sync changed declared statuses.
func (sc *scenario) rerollup() {
	rollup.Apply(sc.Graph)
}
