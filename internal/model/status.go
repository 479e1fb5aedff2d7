package model

import (
	"fmt"
	"strings"
)

// RequirementStatus is the business status declared for a requirement.
type RequirementStatus string

const (
	StatusPending        RequirementStatus = "pending"
	StatusInProgress     RequirementStatus = "in_progress"
	StatusComplete       RequirementStatus = "complete"
	StatusPlanned        RequirementStatus = "planned"
	StatusNotImplemented RequirementStatus = "not_implemented"
)

// ParseRequirementStatus maps a raw status string onto the closed enumeration.
//
// An empty string defaults to pending. Legacy spellings are folded onto their
// canonical value; "incomplete" and "in_review" are treated as pending because
// the rollup never distinguishes them. Anything else is an error.
func ParseRequirementStatus(raw string) (RequirementStatus, error) {
	switch canonicalToken(raw) {
	case "", "pending", "incomplete", "in_review", "todo":
		return StatusPending, nil
	case "in_progress", "wip":
		return StatusInProgress, nil
	case "complete", "completed", "done":
		return StatusComplete, nil
	case "planned":
		return StatusPlanned, nil
	case "not_implemented":
		return StatusNotImplemented, nil
	default:
		return "", fmt.Errorf("unknown requirement status %q", raw)
	}
}

func (s RequirementStatus) String() string { return string(s) }

// ValidationStatus is the declared status of a single validation.
//
// The zero value means the file did not declare one.
type ValidationStatus string

const (
	ValidationNone           ValidationStatus = ""
	ValidationImplemented    ValidationStatus = "implemented"
	ValidationFailing        ValidationStatus = "failing"
	ValidationPlanned        ValidationStatus = "planned"
	ValidationNotImplemented ValidationStatus = "not_implemented"
)

// ParseValidationStatus maps a raw validation status onto the closed enumeration.
func ParseValidationStatus(raw string) (ValidationStatus, error) {
	switch canonicalToken(raw) {
	case "":
		return ValidationNone, nil
	case "implemented", "passing", "passed":
		return ValidationImplemented, nil
	case "failing", "failed":
		return ValidationFailing, nil
	case "planned", "pending":
		return ValidationPlanned, nil
	case "not_implemented":
		return ValidationNotImplemented, nil
	default:
		return "", fmt.Errorf("unknown validation status %q", raw)
	}
}

// LiveStatus is a status observed from evidence.
//
// The zero value (LiveNone) means no evidence was attached at all, which is
// different from LiveUnknown (evidence exists but says nothing useful).
type LiveStatus string

const (
	LiveNone    LiveStatus = ""
	LivePassed  LiveStatus = "passed"
	LiveFailed  LiveStatus = "failed"
	LiveSkipped LiveStatus = "skipped"
	LiveNotRun  LiveStatus = "not_run"
	LiveUnknown LiveStatus = "unknown"
)

// NormalizeLiveStatus folds the free-form status strings produced by test
// tooling onto LiveStatus. Unrecognized values become LiveUnknown.
func NormalizeLiveStatus(raw string) LiveStatus {
	switch canonicalToken(raw) {
	case "pass", "passed", "passing", "success", "succeeded", "ok", "complete", "completed":
		return LivePassed
	case "fail", "failed", "failing", "failure", "error", "errored":
		return LiveFailed
	case "skip", "skipped":
		return LiveSkipped
	case "not_run", "notrun", "pending", "missing", "not_executed":
		return LiveNotRun
	default:
		return LiveUnknown
	}
}

// Priority ranks live statuses for evidence selection:
// failed(4) > skipped(3) > passed(2) > not_run(1) > unknown(0).
// LiveNone ranks below everything.
func (s LiveStatus) Priority() int {
	switch s {
	case LiveFailed:
		return 4
	case LiveSkipped:
		return 3
	case LivePassed:
		return 2
	case LiveNotRun:
		return 1
	case LiveUnknown:
		return 0
	case LiveNone:
		return -1
	}
	return -1
}

// OrUnknown returns LiveUnknown for LiveNone and s otherwise.
func (s LiveStatus) OrUnknown() LiveStatus {
	if s == LiveNone {
		return LiveUnknown
	}
	return s
}

// Criticality is the requirement priority class.
type Criticality string

const (
	CriticalityNone Criticality = ""
	CriticalityP0   Criticality = "P0"
	CriticalityP1   Criticality = "P1"
	CriticalityP2   Criticality = "P2"
)

// ParseCriticality accepts P0, P1, P2 (any case) or an empty value.
func ParseCriticality(raw string) (Criticality, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return CriticalityNone, nil
	case "P0":
		return CriticalityP0, nil
	case "P1":
		return CriticalityP1, nil
	case "P2":
		return CriticalityP2, nil
	default:
		return "", fmt.Errorf("unknown criticality %q", raw)
	}
}

// Rank orders criticalities from most to least restrictive. CriticalityNone
// ranks last.
func (c Criticality) Rank() int {
	switch c {
	case CriticalityP0:
		return 0
	case CriticalityP1:
		return 1
	case CriticalityP2:
		return 2
	case CriticalityNone:
		return 3
	}
	return 3
}

// MoreRestrictive returns whichever of a and b has the lower rank.
func MoreRestrictive(a, b Criticality) Criticality {
	if b.Rank() < a.Rank() {
		return b
	}
	return a
}

// ValidationType is the declared kind of a validation.
type ValidationType string

const (
	TypeTest       ValidationType = "test"
	TypeAutomation ValidationType = "automation"
	TypeManual     ValidationType = "manual"
	TypeOther      ValidationType = "other"
)

// ParseValidationType maps a raw type. Types outside the vocabulary are kept
// as TypeOther; the raw value stays untouched in the source file.
func ParseValidationType(raw string) ValidationType {
	switch canonicalToken(raw) {
	case "test", "unit", "integration", "e2e":
		return TypeTest
	case "automation", "workflow", "playbook":
		return TypeAutomation
	case "manual":
		return TypeManual
	default:
		return TypeOther
	}
}

func canonicalToken(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}
