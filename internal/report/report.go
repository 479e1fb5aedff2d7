// Package report assembles the documents printed by the CLI and renders
// them as JSON, markdown or a canonical change trace.
package report

import (
	"sort"
	"time"

	"reqsync/internal/reconcile"
	"reqsync/internal/registry"
	"reqsync/internal/rollup"
	"reqsync/internal/snapshot"
)

// Summary counts requirements along each status dimension.
type Summary struct {
	Total       int            `json:"total"`
	Validations int            `json:"validations"`
	Declared    map[string]int `json:"declared"`
	Effective   map[string]int `json:"effective"`
	Live        map[string]int `json:"live"`
	LiveRollup  map[string]int `json:"live_rollup"`
	Criticality map[string]int `json:"criticality"`
}

// SyncSummary is attached to the report when it follows a sync.
type SyncSummary struct {
	*reconcile.Result
	SnapshotPath string `json:"snapshot_path"`
	SyncID       string `json:"sync_id"`
}

// Document is the report-mode output.
type Document struct {
	Scenario           string                       `json:"scenario"`
	GeneratedAt        time.Time                    `json:"generated_at"`
	GraphHash          string                       `json:"graph_hash"`
	Summary            Summary                      `json:"summary"`
	Requirements       []snapshot.RequirementRecord `json:"requirements"`
	DanglingChildren   []rollup.Dangling            `json:"dangling_children"`
	Cycles             [][]string                   `json:"cycles"`
	OperationalTargets []snapshot.Target            `json:"operational_targets"`
	Sync               *SyncSummary                 `json:"sync,omitempty"`
}

// Build assembles the report from an enriched, rolled-up registry.
func Build(scenario string, reg *registry.Registry, g *rollup.Graph, now time.Time) *Document {
	doc := &Document{
		Scenario:           scenario,
		GeneratedAt:        now.UTC(),
		GraphHash:          g.Hash(),
		Summary:            summarize(reg),
		Requirements:       make([]snapshot.RequirementRecord, 0, reg.Len()),
		DanglingChildren:   append([]rollup.Dangling{}, g.Dangling()...),
		Cycles:             g.Cycles(),
		OperationalTargets: snapshot.BuildTargets(reg),
	}
	if doc.Cycles == nil {
		doc.Cycles = [][]string{}
	}
	for _, id := range reg.IDs() {
		r, _ := reg.Get(id)
		prov, _ := reg.Provenance(id)
		doc.Requirements = append(doc.Requirements, snapshot.RecordOf(r, prov, g))
	}
	sort.Slice(doc.DanglingChildren, func(i, j int) bool {
		a, b := doc.DanglingChildren[i], doc.DanglingChildren[j]
		if a.Parent != b.Parent {
			return a.Parent < b.Parent
		}
		return a.Child < b.Child
	})
	return doc
}

func summarize(reg *registry.Registry) Summary {
	s := Summary{
		Declared:    map[string]int{},
		Effective:   map[string]int{},
		Live:        map[string]int{},
		LiveRollup:  map[string]int{},
		Criticality: map[string]int{},
	}
	for _, r := range reg.Requirements() {
		s.Total++
		s.Validations += len(r.Validations)
		s.Declared[string(r.Declared)]++
		s.Effective[string(r.Status)]++
		s.Live[string(r.LiveStatus.OrUnknown())]++
		s.LiveRollup[string(r.LiveRollup.OrUnknown())]++
		crit := string(r.Criticality)
		if crit == "" {
			crit = "none"
		}
		s.Criticality[crit]++
	}
	return s
}
