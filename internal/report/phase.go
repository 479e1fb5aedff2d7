package report

import (
	"sort"
	"strings"

	"reqsync/internal/evidence"
	"reqsync/internal/model"
	"reqsync/internal/registry"
	"reqsync/internal/snapshot"
)

// PhaseRequirement is a requirement with at least one validation sourced
// to the inspected phase.
type PhaseRequirement struct {
	ID          string                      `json:"id"`
	Title       string                      `json:"title,omitempty"`
	File        string                      `json:"file"`
	Status      string                      `json:"status"`
	LiveStatus  string                      `json:"live_status"`
	Validations []snapshot.ValidationRecord `json:"validations"`
}

// PhaseDocument is the phase-inspect output.
type PhaseDocument struct {
	Scenario     string                 `json:"scenario"`
	Phase        string                 `json:"phase"`
	Found        bool                   `json:"found"`
	Summary      *evidence.PhaseSummary `json:"summary,omitempty"`
	Requirements []PhaseRequirement     `json:"requirements"`
	Records      []model.EvidenceRecord `json:"records"`
}

// BuildPhase collects everything known about one test phase.
func BuildPhase(scenario, phase string, reg *registry.Registry, set *evidence.Set) *PhaseDocument {
	phase = strings.ToLower(strings.TrimSpace(phase))
	doc := &PhaseDocument{
		Scenario:     scenario,
		Phase:        phase,
		Requirements: []PhaseRequirement{},
		Records:      []model.EvidenceRecord{},
	}
	if summary, ok := set.Phase(phase); ok {
		doc.Summary = &summary
		doc.Found = true
	}

	for _, id := range reg.IDs() {
		r, _ := reg.Get(id)
		prov, _ := reg.Provenance(id)
		var vals []snapshot.ValidationRecord
		rec := snapshot.RecordOf(r, prov, nil)
		for i, v := range r.Validations {
			if v.Source.IsPhase() && v.Source.Name == phase {
				vals = append(vals, rec.Validations[i])
			}
		}
		if len(vals) == 0 {
			continue
		}
		doc.Requirements = append(doc.Requirements, PhaseRequirement{
			ID:          r.ID,
			Title:       r.Title,
			File:        prov.Rel,
			Status:      string(r.Status),
			LiveStatus:  rec.LiveStatus,
			Validations: vals,
		})
	}

	for _, recs := range set.Records {
		for _, rec := range recs {
			if rec.Phase == phase {
				doc.Records = append(doc.Records, rec)
			}
		}
	}
	sort.SliceStable(doc.Records, func(i, j int) bool {
		a, b := doc.Records[i], doc.Records[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.UpdatedAt.Before(b.UpdatedAt)
	})
	if len(doc.Records) > 0 {
		doc.Found = true
	}
	return doc
}
