package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ChangeLog is the canonical, deterministic record of what a reconciliation
// decided and changed.
//
// Invariants:
//   - Captures GraphHash (the requirement graph identity) and a list of events.
//   - Contains logical decisions only: no timestamps, no error strings, no
//     values derived from map iteration.
//   - Events are sorted by Canonicalize; two runs that reach the same
//     decisions produce byte-identical CanonicalJSON regardless of the order
//     in which events were recorded.
//
// The log is observational. Nothing reads it back to make a decision.
type ChangeLog struct {
	GraphHash string
	Events    []Event
}

// EventKind is the stable discriminator for Event. The string values are part
// of the canonical bytes; do not rename.
type EventKind string

const (
	EventEvidenceSelected   EventKind = "EvidenceSelected"
	EventValidationAdded    EventKind = "ValidationAdded"
	EventValidationOrphaned EventKind = "ValidationOrphaned"
	EventValidationRemoved  EventKind = "ValidationRemoved"
	EventStatusChanged      EventKind = "StatusChanged"
	EventFileWritten        EventKind = "FileWritten"
)

// Event is a single logical decision.
//
// Optional fields are omitted from the canonical encoding when empty.
type Event struct {
	Kind EventKind

	// File is the scenario-relative requirement file the event touches.
	File string

	// RequirementID is required for every kind except FileWritten.
	RequirementID string

	// Ref identifies the validation (test file, workflow id) when relevant.
	Ref string

	// From and To carry status transitions.
	From string
	To   string

	// Reason is a stable reason code (e.g. "phase:unit", "missing-on-disk").
	Reason string
}

// Validate checks basic invariants and returns a descriptive error.
func (c *ChangeLog) Validate() error {
	if c == nil {
		return errors.New("change log is nil")
	}
	var errs []error
	for i, e := range c.Events {
		if e.Kind == "" {
			errs = append(errs, fmt.Errorf("events[%d].kind is required", i))
			continue
		}
		if e.Kind == EventFileWritten {
			if e.File == "" {
				errs = append(errs, fmt.Errorf("events[%d].file is required for kind %q", i, e.Kind))
			}
			continue
		}
		if e.RequirementID == "" {
			errs = append(errs, fmt.Errorf("events[%d].requirementId is required for kind %q", i, e.Kind))
		}
	}
	return errors.Join(errs...)
}

// Canonicalize sorts the events into canonical order:
// (file, requirementId, kindOrder, ref, from, to, reason).
func (c *ChangeLog) Canonicalize() {
	if c == nil {
		return
	}
	sort.SliceStable(c.Events, func(i, j int) bool {
		a, b := c.Events[i], c.Events[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.RequirementID != b.RequirementID {
			return a.RequirementID < b.RequirementID
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Ref != b.Ref {
			return a.Ref < b.Ref
		}
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Reason < b.Reason
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventEvidenceSelected:
		return 10
	case EventValidationOrphaned:
		return 20
	case EventValidationRemoved:
		return 30
	case EventValidationAdded:
		return 40
	case EventStatusChanged:
		return 50
	case EventFileWritten:
		return 60
	default:
		return 1000
	}
}

// Count returns the number of events of the given kind.
func (c *ChangeLog) Count(kind EventKind) int {
	if c == nil {
		return 0
	}
	n := 0
	for _, e := range c.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Filter returns the events of the given kind in current order.
func (c *ChangeLog) Filter(kind EventKind) []Event {
	if c == nil {
		return nil
	}
	var out []Event
	for _, e := range c.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// CanonicalJSON returns the canonical encoding. The receiver is not modified;
// a canonicalized copy is encoded.
func (c ChangeLog) CanonicalJSON() ([]byte, error) {
	cp := ChangeLog{GraphHash: c.GraphHash, Events: append([]Event(nil), c.Events...)}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	cp.Canonicalize()

	var buf bytes.Buffer
	buf.WriteString(`{"graphHash":`)
	gb, _ := json.Marshal(cp.GraphHash)
	buf.Write(gb)
	buf.WriteString(`,"events":[`)
	for i := range cp.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(cp.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// Hash returns the sha256 of the canonical encoding.
func (c ChangeLog) Hash() (string, error) {
	b, err := c.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeHash(b), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	for _, f := range []struct{ name, value string }{
		{"file", e.File},
		{"requirementId", e.RequirementID},
		{"ref", e.Ref},
		{"from", e.From},
		{"to", e.To},
		{"reason", e.Reason},
	} {
		if f.value == "" {
			continue
		}
		buf.WriteString(`,"` + f.name + `":`)
		vb, _ := json.Marshal(f.value)
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
