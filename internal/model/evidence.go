package model

import "time"

// Origin names the artifact family an evidence record was read from.
type Origin string

const (
	OriginPhaseResults Origin = "phase-results"
	OriginVitest       Origin = "vitest"
	OriginManual       Origin = "manual"
)

// EvidenceRecord is a single immutable observation about a requirement.
//
// Many records may exist per requirement (one per phase and run). Records are
// never mutated after loading; stages that need derived values copy them.
type EvidenceRecord struct {
	ID              string     `json:"id"`
	Status          LiveStatus `json:"status"`
	Phase           string     `json:"phase,omitempty"`
	Evidence        string     `json:"evidence,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at,omitzero"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	Origin          Origin     `json:"origin"`
}

// Details converts the record into the LiveDetails attached to a validation.
func (r EvidenceRecord) Details() *LiveDetails {
	return &LiveDetails{
		Phase:           r.Phase,
		Origin:          r.Origin,
		UpdatedAt:       r.UpdatedAt,
		DurationSeconds: r.DurationSeconds,
		Evidence:        r.Evidence,
	}
}

// Outranks reports whether r should be preferred over other: higher status
// priority first, then the later UpdatedAt. Equal records do not outrank each
// other, so the first one encountered wins.
func (r EvidenceRecord) Outranks(other EvidenceRecord) bool {
	pr, po := r.Status.Priority(), other.Status.Priority()
	if pr != po {
		return pr > po
	}
	return r.UpdatedAt.After(other.UpdatedAt)
}

// EvidenceMap indexes evidence records by requirement id.
type EvidenceMap map[string][]EvidenceRecord

// Add appends a record under its requirement id.
func (m EvidenceMap) Add(rec EvidenceRecord) {
	m[rec.ID] = append(m[rec.ID], rec)
}

// Merge appends every record of other into m.
func (m EvidenceMap) Merge(other EvidenceMap) {
	for id, recs := range other {
		m[id] = append(m[id], recs...)
	}
}
