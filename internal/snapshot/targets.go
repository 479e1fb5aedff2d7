package snapshot

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"reqsync/internal/model"
	"reqsync/internal/registry"
)

// FolderPrefix marks targets derived from the requirement file location
// rather than an explicit operational-target id.
const FolderPrefix = "folder:"

var targetIDPattern = regexp.MustCompile(`OT-P[0-2]-\d{3}`)

// Target is an operational target aggregated from its member requirements.
type Target struct {
	ID           string         `json:"id"`
	Criticality  string         `json:"criticality,omitempty"`
	Status       string         `json:"status"`
	Total        int            `json:"total"`
	Counts       map[string]int `json:"counts"`
	Requirements []string       `json:"requirements"`
}

// IsOperational reports whether the target carries an OT- id.
func (t Target) IsOperational() bool { return strings.HasPrefix(t.ID, "OT-") }

// ExtractTargetID returns the first OT-P<n>-<nnn> id embedded in s.
func ExtractTargetID(s string) (string, bool) {
	id := targetIDPattern.FindString(s)
	return id, id != ""
}

// TargetKey returns the operational target a requirement belongs to: the id
// embedded in its prd_ref, else a folder hint derived from its file.
func TargetKey(r *model.Requirement, rel string) string {
	if id, ok := ExtractTargetID(r.PRDRef); ok {
		return id
	}
	return FolderPrefix + folderHint(rel)
}

// folderHint names the module a requirement file belongs to: the first
// folder below requirements/, or the file name for top-level files.
func folderHint(rel string) string {
	rel = strings.TrimPrefix(rel, "requirements/")
	if dir, _, ok := strings.Cut(rel, "/"); ok {
		return dir
	}
	return strings.TrimSuffix(path.Base(rel), path.Ext(rel))
}

// BuildTargets aggregates every requirement into its operational target.
// Targets are sorted by id; members by requirement id.
func BuildTargets(reg *registry.Registry) []Target {
	byID := map[string]*Target{}
	for _, r := range reg.Requirements() {
		prov, _ := reg.Provenance(r.ID)
		key := TargetKey(r, prov.Rel)
		t, ok := byID[key]
		if !ok {
			t = &Target{ID: key, Counts: map[string]int{}, Criticality: string(model.CriticalityNone)}
			byID[key] = t
		}
		t.Requirements = append(t.Requirements, r.ID)
		t.Counts[string(r.Status)]++
		t.Total++
		t.Criticality = string(model.MoreRestrictive(model.Criticality(t.Criticality), r.Criticality))
	}

	out := make([]Target, 0, len(byID))
	for _, t := range byID {
		sort.Strings(t.Requirements)
		t.Status = string(TargetStatus(t.Counts, t.Total))
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TargetStatus is complete when every member is complete, in_progress when
// any member is complete or in progress, and pending otherwise.
func TargetStatus(counts map[string]int, total int) model.RequirementStatus {
	complete := counts[string(model.StatusComplete)]
	switch {
	case total > 0 && complete == total:
		return model.StatusComplete
	case complete > 0 || counts[string(model.StatusInProgress)] > 0:
		return model.StatusInProgress
	}
	return model.StatusPending
}
