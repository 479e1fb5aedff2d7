package rollup

import (
	"strings"
)

// Cycles returns one witness path per distinct cycle reachable by a
// depth-first walk in canonical order. Each path starts and ends with the
// same id and is rotated to start at its smallest id.
func (g *Graph) Cycles() [][]string {
	n := len(g.ids)
	color := make([]uint8, n)
	onStack := make([]int, n) // position in path, valid while gray
	var path []int
	var out [][]string
	seen := make(map[string]struct{})

	stack := make([]frame, 0, 16)
	for root := 0; root < n; root++ {
		if color[root] != white {
			continue
		}
		color[root] = gray
		onStack[root] = 0
		path = append(path[:0], root)
		stack = append(stack[:0], frame{node: root})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			kids := g.children[top.node]
			if top.next < len(kids) {
				c := kids[top.next]
				top.next++
				switch color[c] {
				case white:
					color[c] = gray
					onStack[c] = len(path)
					path = append(path, c)
					stack = append(stack, frame{node: c})
				case gray:
					cycle := canonicalCycle(path[onStack[c]:])
					names := make([]string, 0, len(cycle)+1)
					for _, idx := range cycle {
						names = append(names, g.ids[idx])
					}
					names = append(names, names[0])
					key := strings.Join(names, "\x00")
					if _, dup := seen[key]; !dup {
						seen[key] = struct{}{}
						out = append(out, names)
					}
				}
				continue
			}
			color[top.node] = black
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}
	return out
}

// canonicalCycle rotates a cycle so it starts at its smallest index.
func canonicalCycle(c []int) []int {
	minAt := 0
	for i, v := range c {
		if v < c[minAt] {
			minAt = i
		}
	}
	out := make([]int, 0, len(c))
	out = append(out, c[minAt:]...)
	return append(out, c[:minAt]...)
}
