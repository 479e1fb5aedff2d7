package model

import "time"

// Requirement is one node of the requirement graph.
//
// Declared holds the status read from the source file. Status starts equal to
// Declared and is overwritten by the declared rollup; it is the effective
// business status used by reports and snapshots.
type Requirement struct {
	ID          string
	Title       string
	Description string
	Category    string
	Criticality Criticality
	PRDRef      string
	Tags        []string

	Declared RequirementStatus
	Status   RequirementStatus

	// Children are references to other requirements (not ownership).
	Children []string
	// DependsOn and Blocks are advisory only and never used in rollup.
	DependsOn []string
	Blocks    []string

	// HasValidations distinguishes an explicit empty validation list from a
	// container requirement that declares none.
	HasValidations bool
	Validations    []*Validation

	// LiveStatus is the requirement's own evidence-derived status.
	LiveStatus LiveStatus
	// LiveRollup is the live status after rolling up children.
	LiveRollup LiveStatus
}

// IsLeaf reports whether the requirement declares no children.
func (r *Requirement) IsLeaf() bool { return len(r.Children) == 0 }

// Validation is one declared piece of evidence for a requirement.
type Validation struct {
	Type       ValidationType
	RawType    string
	Ref        string
	WorkflowID string
	Phase      string
	Status     ValidationStatus

	// Source is computed once at load time by the evidence classifier.
	Source Source

	LiveStatus  LiveStatus
	LiveDetails *LiveDetails
}

// LiveDetails describes the evidence record chosen for a validation.
type LiveDetails struct {
	Phase           string    `json:"phase,omitempty"`
	Origin          Origin    `json:"origin,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Evidence        string    `json:"evidence,omitempty"`
}

// Key identifies the validation within its requirement for de-duplication.
func (v *Validation) Key() string {
	if v.Ref != "" {
		return "ref:" + v.Ref
	}
	if v.WorkflowID != "" {
		return "workflow:" + v.WorkflowID
	}
	return ""
}
