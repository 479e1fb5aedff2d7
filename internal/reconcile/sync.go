// Package reconcile writes evidence-derived statuses back into the
// requirement files.
//
// Sync only runs after the guard has proven that a full test suite produced
// the evidence. It edits files in place, touching nothing but the fields it
// owns, and it is idempotent: a second run without new evidence writes
// nothing.
package reconcile

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"reqsync/internal/enrich"
	"reqsync/internal/evidence"
	"reqsync/internal/logging"
	"reqsync/internal/model"
	"reqsync/internal/registry"
	"reqsync/internal/store"
	"reqsync/internal/trace"
)

// Reason codes carried by change events.
const (
	ReasonMissingOnDisk = "missing-on-disk"
	ReasonPruneStale    = "prune-stale"
	ReasonVitest        = "vitest"
)

// Options configures one sync pass.
type Options struct {
	// Root is the scenario root validations refs are relative to.
	Root       string
	PruneStale bool
	Now        time.Time
	Classifier *evidence.Classifier
	Vitest     evidence.VitestReport
	// Exists reports whether a scenario-relative file exists. Defaults to
	// os.Stat under Root.
	Exists func(rel string) bool
	Sink   trace.Sink
	Log    *zap.Logger
}

// Change names one validation of one requirement.
type Change struct {
	File          string `json:"file"`
	RequirementID string `json:"requirement_id"`
	Ref           string `json:"ref"`
}

// StatusChange is a status transition written to a file. Ref is empty for
// requirement-level changes.
type StatusChange struct {
	File          string `json:"file"`
	RequirementID string `json:"requirement_id"`
	Ref           string `json:"ref,omitempty"`
	From          string `json:"from"`
	To            string `json:"to"`
}

// Result is the change log of one sync pass.
type Result struct {
	Added         []Change       `json:"added"`
	Orphaned      []Change       `json:"orphaned"`
	Removed       []Change       `json:"removed"`
	StatusChanges []StatusChange `json:"status_changes"`
	FilesWritten  []string       `json:"files_written"`
}

// Changed reports whether any file was written.
func (r *Result) Changed() bool { return r != nil && len(r.FilesWritten) > 0 }

// reqEdit is the pending rewrite of one requirement object.
type reqEdit struct {
	index int
	key   string

	status string // new requirement status, "" when unchanged

	listChanged bool
	// layout holds, per final validation, its index in the original array
	// or -1 for an appended one.
	layout    []int
	added     map[int]*model.Validation // final position -> new validation
	newStatus map[int]string            // original index -> new status
}

func (e *reqEdit) dirty() bool {
	return e.status != "" || e.listChanged || len(e.newStatus) > 0
}

// Sync reconciles every document of reg and writes back the files that
// changed. The in-memory requirements are updated to match what was written.
func Sync(reg *registry.Registry, opts Options) (*Result, error) {
	log := logging.OrNop(opts.Log)
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	if opts.Classifier == nil {
		opts.Classifier = evidence.NewClassifier(nil)
	}
	if opts.Exists == nil {
		root := opts.Root
		opts.Exists = func(rel string) bool {
			_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
			return err == nil
		}
	}
	sink := opts.Sink
	if sink == nil {
		sink = trace.NopSink{}
	}

	res := &Result{
		Added:         []Change{},
		Orphaned:      []Change{},
		Removed:       []Change{},
		StatusChanges: []StatusChange{},
		FilesWritten:  []string{},
	}

	for _, doc := range reg.Documents {
		var edits []*reqEdit
		for i, r := range doc.Requirements {
			e := reconcileRequirement(doc, i, r, opts, res, sink)
			if e.dirty() {
				edits = append(edits, e)
			}
		}
		if len(edits) == 0 {
			continue
		}

		out, err := rewrite(doc.Raw, edits, opts.Now)
		if err != nil {
			return res, fmt.Errorf("rewrite %s: %w", doc.File.Rel, err)
		}
		if err := store.WriteFileAtomic(doc.File.Path, out, store.FileMode(doc.File.Path, 0o644)); err != nil {
			return res, fmt.Errorf("write %s: %w", doc.File.Rel, err)
		}
		doc.Raw = out
		res.FilesWritten = append(res.FilesWritten, doc.File.Rel)
		trace.SafeRecord(sink, trace.Event{Kind: trace.EventFileWritten, File: doc.File.Rel})
		log.Info("requirement file updated", zap.String("file", doc.File.Rel), zap.Int("requirements", len(edits)))
	}
	return res, nil
}

func reconcileRequirement(doc *registry.Document, idx int, r *model.Requirement, opts Options, res *Result, sink trace.Sink) *reqEdit {
	file := doc.File.Rel
	e := &reqEdit{
		index:     idx,
		key:       doc.ValidationKey(idx),
		added:     map[int]*model.Validation{},
		newStatus: map[int]string{},
	}

	// Orphaned UI test validations. Only test-type validations can be orphaned.
	kept := make([]*model.Validation, 0, len(r.Validations))
	for i, v := range r.Validations {
		ref := cleanRef(v.Ref)
		if v.Type == model.TypeTest && ref != "" && opts.Classifier.IsUITest(ref) && !opts.Exists(ref) {
			c := Change{File: file, RequirementID: r.ID, Ref: v.Ref}
			res.Orphaned = append(res.Orphaned, c)
			trace.SafeRecord(sink, trace.Event{Kind: trace.EventValidationOrphaned, File: file, RequirementID: r.ID, Ref: v.Ref, Reason: ReasonMissingOnDisk})
			if opts.PruneStale {
				res.Removed = append(res.Removed, c)
				trace.SafeRecord(sink, trace.Event{Kind: trace.EventValidationRemoved, File: file, RequirementID: r.ID, Ref: v.Ref, Reason: ReasonPruneStale})
				e.listChanged = true
				continue
			}
		}
		kept = append(kept, v)
		e.layout = append(e.layout, i)
	}

	// Validations for newly discovered vitest test files.
	present := make(map[string]struct{}, len(kept))
	for _, v := range kept {
		if ref := cleanRef(v.Ref); ref != "" {
			present[ref] = struct{}{}
		}
	}
	if files := opts.Vitest.TestFiles[r.ID]; len(files) > 0 {
		best, hasBest := enrich.Best(opts.Vitest.Records[r.ID], nil)
		for _, tf := range files {
			if _, ok := present[tf]; ok || !opts.Exists(tf) {
				continue
			}
			present[tf] = struct{}{}
			v := &model.Validation{
				Type:    model.TypeTest,
				RawType: string(model.TypeTest),
				Ref:     tf,
				Phase:   evidence.VitestPhase,
				Source:  model.PhaseSource(evidence.VitestPhase),
			}
			if hasBest {
				v.LiveStatus = best.Status
				v.LiveDetails = best.Details()
			}
			v.Status = DeriveValidationStatus(v.LiveStatus, model.ValidationNone)
			e.added[len(kept)] = v
			e.layout = append(e.layout, -1)
			kept = append(kept, v)
			e.listChanged = true
			res.Added = append(res.Added, Change{File: file, RequirementID: r.ID, Ref: tf})
			trace.SafeRecord(sink, trace.Event{Kind: trace.EventValidationAdded, File: file, RequirementID: r.ID, Ref: tf, To: string(v.Status), Reason: ReasonVitest})
		}
	}

	// Validation status derivation for pre-existing validations.
	for pos, v := range kept {
		orig := e.layout[pos]
		if orig < 0 {
			continue
		}
		next := DeriveValidationStatus(v.LiveStatus, v.Status)
		if next == v.Status {
			continue
		}
		res.StatusChanges = append(res.StatusChanges, StatusChange{File: file, RequirementID: r.ID, Ref: refOf(v), From: string(v.Status), To: string(next)})
		trace.SafeRecord(sink, trace.Event{Kind: trace.EventStatusChanged, File: file, RequirementID: r.ID, Ref: refOf(v), From: string(v.Status), To: string(next)})
		v.Status = next
		e.newStatus[orig] = string(next)
	}
	r.Validations = kept

	// Requirement status derivation.
	statuses := make([]model.ValidationStatus, 0, len(kept))
	for _, v := range kept {
		statuses = append(statuses, v.Status)
	}
	if next := DeriveRequirementStatus(r.Declared, statuses); next != r.Declared {
		res.StatusChanges = append(res.StatusChanges, StatusChange{File: file, RequirementID: r.ID, From: string(r.Declared), To: string(next)})
		trace.SafeRecord(sink, trace.Event{Kind: trace.EventStatusChanged, File: file, RequirementID: r.ID, From: string(r.Declared), To: string(next)})
		r.Declared = next
		r.Status = next
		e.status = string(next)
	}
	if e.listChanged {
		r.HasValidations = true
	}
	return e
}

// DeriveValidationStatus maps a live status onto the declared vocabulary.
// Inconclusive evidence keeps the previous status.
func DeriveValidationStatus(live model.LiveStatus, prev model.ValidationStatus) model.ValidationStatus {
	switch live {
	case model.LivePassed:
		return model.ValidationImplemented
	case model.LiveFailed:
		return model.ValidationFailing
	case model.LiveSkipped:
		if prev != model.ValidationNone {
			return prev
		}
		return model.ValidationPlanned
	case model.LiveNotRun, model.LiveUnknown:
		return prev
	case model.LiveNone:
		return model.ValidationNotImplemented
	}
	return prev
}

// DeriveRequirementStatus derives a requirement's declared status from its
// validation statuses. Requirements without validations keep theirs.
func DeriveRequirementStatus(cur model.RequirementStatus, statuses []model.ValidationStatus) model.RequirementStatus {
	if len(statuses) == 0 {
		return cur
	}
	implemented := 0
	for _, s := range statuses {
		switch s {
		case model.ValidationFailing:
			return model.StatusInProgress
		case model.ValidationImplemented:
			implemented++
		case model.ValidationNone, model.ValidationPlanned, model.ValidationNotImplemented:
		}
	}
	switch {
	case implemented == len(statuses):
		return model.StatusComplete
	case implemented > 0 && (cur == model.StatusPending || cur == model.StatusNotImplemented):
		return model.StatusInProgress
	}
	return cur
}

func cleanRef(ref string) string {
	if ref == "" {
		return ""
	}
	return path.Clean(filepath.ToSlash(ref))
}

func refOf(v *model.Validation) string {
	if v.Ref != "" {
		return v.Ref
	}
	return v.WorkflowID
}
