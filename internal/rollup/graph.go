// Package rollup aggregates requirement statuses over the parent/child graph.
//
// The graph may contain cycles: requirement files are edited by hand and
// nothing upstream forbids them. Every traversal is an iterative depth-first
// walk over canonical integer indices with a three-colour state array, so a
// cycle terminates the walk instead of recursing forever.
package rollup

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"go.uber.org/zap"

	"reqsync/internal/logging"
	"reqsync/internal/model"
)

// Dangling is a child reference that resolves to no requirement.
type Dangling struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

// Graph is the requirement graph keyed by canonical index (ids sorted).
type Graph struct {
	ids      []string
	index    map[string]int
	reqs     []*model.Requirement
	children [][]int // declared order, dangling and duplicate edges dropped

	dangling []Dangling
	hash     string
}

// New builds the graph. Dangling children are logged, kept for the report and
// excluded from every rollup.
func New(reqs []*model.Requirement, log *zap.Logger) *Graph {
	log = logging.OrNop(log)

	sorted := make([]*model.Requirement, len(reqs))
	copy(sorted, reqs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	g := &Graph{
		ids:      make([]string, len(sorted)),
		index:    make(map[string]int, len(sorted)),
		reqs:     sorted,
		children: make([][]int, len(sorted)),
	}
	for i, r := range sorted {
		g.ids[i] = r.ID
		g.index[r.ID] = i
	}

	for i, r := range sorted {
		seen := make(map[int]struct{}, len(r.Children))
		for _, child := range r.Children {
			c, ok := g.index[child]
			if !ok {
				log.Warn("dangling child reference", zap.String("parent", r.ID), zap.String("child", child))
				g.dangling = append(g.dangling, Dangling{Parent: r.ID, Child: child})
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			g.children[i] = append(g.children[i], c)
		}
	}

	g.hash = g.computeHash()
	return g
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.ids) }

// IDs returns the node ids in canonical order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

// Requirement returns the requirement with the given id.
func (g *Graph) Requirement(id string) (*model.Requirement, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.reqs[i], true
}

// Children returns the resolved child ids of id in declared order.
func (g *Graph) Children(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.children[i]))
	for _, c := range g.children[i] {
		out = append(out, g.ids[c])
	}
	return out
}

// Dangling returns the unresolved child references in canonical parent order.
func (g *Graph) Dangling() []Dangling {
	out := make([]Dangling, len(g.dangling))
	copy(out, g.dangling)
	return out
}

// Hash identifies the graph shape: node ids and resolved edges.
func (g *Graph) Hash() string { return g.hash }

func (g *Graph) computeHash() string {
	h := sha256.New()
	for i, id := range g.ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		for _, c := range g.children[i] {
			h.Write([]byte(g.ids[c]))
			h.Write([]byte{0})
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
