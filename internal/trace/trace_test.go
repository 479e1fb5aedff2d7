package trace

import (
	"bytes"
	"testing"
)

func TestCanonicalJSON_ByteForByte(t *testing.T) {
	log1 := ChangeLog{
		GraphHash: "graph-abc",
		Events: []Event{
			{Kind: EventStatusChanged, File: "requirements/a.json", RequirementID: "REQ-2", From: "pending", To: "complete"},
			{Kind: EventFileWritten, File: "requirements/a.json"},
			{Kind: EventValidationAdded, File: "requirements/a.json", RequirementID: "REQ-1", Ref: "ui/src/a.test.tsx"},
		},
	}
	log2 := ChangeLog{
		GraphHash: "graph-abc",
		Events: []Event{
			{Kind: EventValidationAdded, File: "requirements/a.json", RequirementID: "REQ-1", Ref: "ui/src/a.test.tsx"},
			{Kind: EventFileWritten, File: "requirements/a.json"},
			{Kind: EventStatusChanged, File: "requirements/a.json", RequirementID: "REQ-2", To: "complete", From: "pending"},
		},
	}

	b1, err := log1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := log2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", b1, b2)
	}
}

func TestCanonicalJSON_OrderAndOmission(t *testing.T) {
	cl := ChangeLog{
		GraphHash: "g",
		Events: []Event{
			{Kind: EventFileWritten, File: "requirements/b.json"},
			{Kind: EventValidationRemoved, File: "requirements/a.json", RequirementID: "R", Ref: "ui/x.test.ts", Reason: "missing-on-disk"},
			{Kind: EventValidationOrphaned, File: "requirements/a.json", RequirementID: "R", Ref: "ui/x.test.ts", Reason: "missing-on-disk"},
		},
	}
	b, err := cl.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"graphHash":"g","events":[` +
		`{"kind":"ValidationOrphaned","file":"requirements/a.json","requirementId":"R","ref":"ui/x.test.ts","reason":"missing-on-disk"},` +
		`{"kind":"ValidationRemoved","file":"requirements/a.json","requirementId":"R","ref":"ui/x.test.ts","reason":"missing-on-disk"},` +
		`{"kind":"FileWritten","file":"requirements/b.json"}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, b)
	}
}

func TestValidate_RequiresFields(t *testing.T) {
	cl := ChangeLog{Events: []Event{{Kind: EventStatusChanged}, {Kind: EventFileWritten}, {}}}
	if err := cl.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := cl.CanonicalJSON(); err == nil {
		t.Fatalf("expected canonical json to reject invalid log")
	}
}

func TestHash_IgnoresRecordingOrder(t *testing.T) {
	r1, r2 := NewRecorder(), NewRecorder()
	a := Event{Kind: EventEvidenceSelected, File: "f", RequirementID: "A", Reason: "phase:unit", To: "passed"}
	b := Event{Kind: EventEvidenceSelected, File: "f", RequirementID: "B", Reason: "phase:unit", To: "failed"}
	r1.Record(a)
	r1.Record(b)
	r2.Record(b)
	r2.Record(a)

	h1, err := r1.Log("g").Hash()
	if err != nil {
		t.Fatalf("hash (1): %v", err)
	}
	h2, err := r2.Log("g").Hash()
	if err != nil {
		t.Fatalf("hash (2): %v", err)
	}
	if h1 != h2 || len(h1) != 64 {
		t.Fatalf("expected identical sha256 hashes, got %q and %q", h1, h2)
	}
}

type panicSink struct{}

func (panicSink) Record(Event) { panic("boom") }

func TestSafeRecord_Inert(t *testing.T) {
	SafeRecord(panicSink{}, Event{Kind: EventFileWritten, File: "f"})
	SafeRecord(nil, Event{Kind: EventFileWritten, File: "f"})
	var r *Recorder
	r.Record(Event{Kind: EventFileWritten, File: "f"})
	if got := r.Events(); got != nil {
		t.Fatalf("nil recorder returned events: %v", got)
	}
}

func TestCountAndFilter(t *testing.T) {
	cl := ChangeLog{Events: []Event{
		{Kind: EventValidationAdded, RequirementID: "A"},
		{Kind: EventValidationAdded, RequirementID: "B"},
		{Kind: EventStatusChanged, RequirementID: "A"},
	}}
	if cl.Count(EventValidationAdded) != 2 {
		t.Fatalf("expected 2 added events")
	}
	if got := cl.Filter(EventStatusChanged); len(got) != 1 || got[0].RequirementID != "A" {
		t.Fatalf("unexpected filter result: %v", got)
	}
}
