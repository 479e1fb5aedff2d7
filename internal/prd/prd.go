// Package prd reads the operational-target checklist of a product
// requirements document.
//
// Only checklist lines are interpreted:
//
//	- [x] OT-P0-001 Users can sign in
//	- [ ] **OT-P1-002** Export to CSV
//
// Everything else in the document is ignored.
package prd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"reqsync/internal/model"
)

var checklistLine = regexp.MustCompile(`^\s*[-*+]\s+\[([ xX])\]\s+(?:\*\*)?(OT-P[0-2]-\d{3})\b`)

// Target is one checklist entry.
type Target struct {
	ID      string `json:"target_id"`
	Checked bool   `json:"checked"`
	Line    int    `json:"line"`
}

// Status maps the checkbox onto a target status: checked is complete,
// unchecked is pending.
func (t Target) Status() model.RequirementStatus {
	if t.Checked {
		return model.StatusComplete
	}
	return model.StatusPending
}

// Checklist is the parsed set of targets, keyed by id. When an id appears
// more than once the first line wins.
type Checklist struct {
	Path    string
	Targets map[string]Target
}

// IDs returns the target ids sorted.
func (c *Checklist) IDs() []string {
	ids := make([]string, 0, len(c.Targets))
	for id := range c.Targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the target with the given id.
func (c *Checklist) Get(id string) (Target, bool) {
	t, ok := c.Targets[id]
	return t, ok
}

// Parse extracts the checklist from document text.
func Parse(data []byte) *Checklist {
	c := &Checklist{Targets: map[string]Target{}}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		m := checklistLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		if _, dup := c.Targets[m[2]]; dup {
			continue
		}
		c.Targets[m[2]] = Target{ID: m[2], Checked: m[1] != " ", Line: line}
	}
	return c
}

// Load reads the checklist at path. A missing document returns (nil, nil)
// so callers can skip target comparison.
func Load(path string) (*Checklist, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read PRD: %w", err)
	}
	c := Parse(data)
	c.Path = path
	return c, nil
}
