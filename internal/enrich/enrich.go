// Package enrich attaches the best available evidence to requirements and
// their validations.
package enrich

import (
	"reqsync/internal/model"
)

// Selection records which evidence record was chosen for a validation.
// ValidationIndex is -1 for requirement-level selections.
type Selection struct {
	RequirementID   string
	ValidationIndex int
	Record          model.EvidenceRecord
}

// Best returns the highest-ranked record accepted by keep. Ties on status
// priority go to the later UpdatedAt, then to the first record encountered.
func Best(recs []model.EvidenceRecord, keep func(model.EvidenceRecord) bool) (model.EvidenceRecord, bool) {
	var best model.EvidenceRecord
	found := false
	for _, rec := range recs {
		if keep != nil && !keep(rec) {
			continue
		}
		if !found || rec.Outranks(best) {
			best, found = rec, true
		}
	}
	return best, found
}

// Apply sets LiveStatus and LiveDetails on every validation and LiveStatus on
// every requirement. A phase-sourced validation takes the best record of its
// own phase and falls back to the best record of the requirement.
func Apply(reqs []*model.Requirement, records model.EvidenceMap) []Selection {
	var sel []Selection
	for _, r := range reqs {
		recs := records[r.ID]
		overall, hasOverall := Best(recs, nil)

		r.LiveStatus = model.LiveNone
		for i, v := range r.Validations {
			v.LiveStatus = model.LiveNone
			v.LiveDetails = nil

			rec, ok := model.EvidenceRecord{}, false
			if v.Source.IsPhase() {
				phase := v.Source.Name
				rec, ok = Best(recs, func(e model.EvidenceRecord) bool { return e.Phase == phase })
			}
			if !ok && hasOverall {
				rec, ok = overall, true
			}
			if !ok {
				continue
			}
			v.LiveStatus = rec.Status
			v.LiveDetails = rec.Details()
			sel = append(sel, Selection{RequirementID: r.ID, ValidationIndex: i, Record: rec})

			if v.LiveStatus.Priority() > r.LiveStatus.Priority() {
				r.LiveStatus = v.LiveStatus
			}
		}

		if hasOverall && overall.Status.Priority() > r.LiveStatus.Priority() {
			r.LiveStatus = overall.Status
			sel = append(sel, Selection{RequirementID: r.ID, ValidationIndex: -1, Record: overall})
		}
	}
	return sel
}
