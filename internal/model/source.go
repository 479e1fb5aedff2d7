package model

// SourceKind discriminates the Source variants.
type SourceKind string

const (
	SourceNone       SourceKind = "none"
	SourcePhase      SourceKind = "phase"
	SourceAutomation SourceKind = "automation"
)

// Source is where a validation's live evidence is expected to come from:
// exactly one of Phase{Name}, Automation{Name} or None.
type Source struct {
	Kind SourceKind `json:"kind"`
	Name string     `json:"name,omitempty"`
}

// PhaseSource returns the Phase{name} variant.
func PhaseSource(name string) Source { return Source{Kind: SourcePhase, Name: name} }

// AutomationSource returns the Automation{name} variant.
func AutomationSource(name string) Source { return Source{Kind: SourceAutomation, Name: name} }

// NoSource returns the None variant.
func NoSource() Source { return Source{Kind: SourceNone} }

// IsPhase reports whether s is the Phase variant.
func (s Source) IsPhase() bool { return s.Kind == SourcePhase }

func (s Source) String() string {
	switch s.Kind {
	case SourcePhase, SourceAutomation:
		return string(s.Kind) + ":" + s.Name
	case SourceNone:
		return string(SourceNone)
	}
	return string(SourceNone)
}
