package rollup

import (
	"reqsync/internal/model"
)

const (
	white uint8 = iota
	gray
	black
)

type frame struct {
	node int
	next int
}

// fold computes one value per node bottom-up.
//
// own is a node's un-aggregated value. combine receives the values of the
// node's resolved children. Leaves take own directly. A child that is still
// gray (an ancestor on the current path, or the node itself) contributes own
// instead of a rolled-up value; results are memoized, so a node inside a cycle
// keeps the value computed from the first entry point in canonical order.
func fold[T any](g *Graph, own func(i int) T, combine func(i int, children []T) T) []T {
	n := len(g.ids)
	color := make([]uint8, n)
	val := make([]T, n)
	stack := make([]frame, 0, 16)

	for root := 0; root < n; root++ {
		if color[root] != white {
			continue
		}
		color[root] = gray
		stack = append(stack, frame{node: root})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			kids := g.children[top.node]
			if top.next < len(kids) {
				c := kids[top.next]
				top.next++
				if color[c] == white {
					color[c] = gray
					stack = append(stack, frame{node: c})
				}
				continue
			}

			u := top.node
			if len(kids) == 0 {
				val[u] = own(u)
			} else {
				vals := make([]T, len(kids))
				for k, c := range kids {
					if color[c] == black {
						vals[k] = val[c]
					} else {
						vals[k] = own(c)
					}
				}
				val[u] = combine(u, vals)
			}
			color[u] = black
			stack = stack[:len(stack)-1]
		}
	}
	return val
}

// Apply computes both rollups and stores them on the requirements: the
// declared rollup overwrites Status, the live rollup sets LiveRollup.
func Apply(g *Graph) {
	declared := fold(g,
		func(i int) model.RequirementStatus { return g.reqs[i].Declared },
		func(i int, children []model.RequirementStatus) model.RequirementStatus {
			return DeclaredStatus(g.reqs[i].Declared, children)
		})
	live := fold(g,
		func(i int) model.LiveStatus { return g.reqs[i].LiveStatus.OrUnknown() },
		func(i int, children []model.LiveStatus) model.LiveStatus {
			return LiveStatus(g.reqs[i].LiveStatus.OrUnknown(), children)
		})
	for i, r := range g.reqs {
		r.Status = declared[i]
		r.LiveRollup = live[i]
	}
}

// DeclaredStatus aggregates child statuses. The branch order is significant:
// the final "any complete" branch is only reachable for combinations the
// earlier branches do not claim, and is kept for those.
func DeclaredStatus(own model.RequirementStatus, children []model.RequirementStatus) model.RequirementStatus {
	if len(children) == 0 {
		if own == "" {
			return model.StatusPending
		}
		return own
	}
	var complete, inProgress, pending, planned, notImpl int
	for _, s := range children {
		switch s {
		case model.StatusComplete:
			complete++
		case model.StatusInProgress:
			inProgress++
		case model.StatusPending:
			pending++
		case model.StatusPlanned:
			planned++
		case model.StatusNotImplemented:
			notImpl++
		}
	}
	switch {
	case complete == len(children):
		return model.StatusComplete
	case inProgress > 0:
		return model.StatusInProgress
	case complete > 0 && (pending > 0 || planned > 0):
		return model.StatusInProgress
	case pending > 0:
		return model.StatusPending
	case planned > 0 || notImpl > 0:
		return model.StatusPlanned
	case complete > 0:
		return model.StatusInProgress
	case own != "":
		return own
	}
	return model.StatusPending
}

// LiveStatus aggregates child live statuses.
func LiveStatus(own model.LiveStatus, children []model.LiveStatus) model.LiveStatus {
	if len(children) == 0 {
		return own.OrUnknown()
	}
	var passed, failed, skipped, notRun, unknown int
	for _, s := range children {
		switch s.OrUnknown() {
		case model.LivePassed:
			passed++
		case model.LiveFailed:
			failed++
		case model.LiveSkipped:
			skipped++
		case model.LiveNotRun:
			notRun++
		case model.LiveUnknown, model.LiveNone:
			unknown++
		}
	}
	n := len(children)
	switch {
	case failed > 0:
		return model.LiveFailed
	case passed == n:
		return model.LivePassed
	case passed+skipped == n:
		if passed > 0 {
			return model.LivePassed
		}
		return model.LiveSkipped
	case skipped > 0:
		return model.LiveSkipped
	case notRun > 0:
		return model.LiveNotRun
	case unknown == n:
		return model.LiveUnknown
	case passed > 0:
		return model.LiveNotRun
	}
	return own.OrUnknown()
}
