package evidence

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"reqsync/internal/model"
)

const phaseScriptPattern = "**/test/phases/test-*.sh"

// Classifier maps validations onto their evidence Source.
type Classifier struct {
	uiGlobs []string
}

// NewClassifier returns a Classifier recognizing UI unit tests by the given
// doublestar patterns (scenario-relative).
func NewClassifier(uiGlobs []string) *Classifier {
	return &Classifier{uiGlobs: append([]string(nil), uiGlobs...)}
}

// IsUITest reports whether ref lies in the UI unit test tree.
func (c *Classifier) IsUITest(ref string) bool {
	ref = cleanRef(ref)
	if ref == "" {
		return false
	}
	for _, g := range c.uiGlobs {
		if ok, _ := doublestar.Match(g, ref); ok {
			return true
		}
	}
	return false
}

// Classify decides where a validation's live evidence comes from. The first
// matching rule wins.
func (c *Classifier) Classify(v *model.Validation) model.Source {
	if v == nil {
		return model.NoSource()
	}
	if p := strings.ToLower(strings.TrimSpace(v.Phase)); p != "" {
		return model.PhaseSource(p)
	}

	ref := cleanRef(v.Ref)
	if ref != "" {
		if ok, _ := doublestar.Match(phaseScriptPattern, ref); ok {
			name := strings.TrimSuffix(strings.TrimPrefix(path.Base(ref), "test-"), ".sh")
			return model.PhaseSource(name)
		}
		switch {
		case c.IsUITest(ref):
			return model.PhaseSource("unit")
		case strings.HasSuffix(ref, "_test.go"):
			return model.PhaseSource("unit")
		case strings.HasPrefix(ref, "tests/") || strings.Contains(ref, "/tests/"):
			return model.PhaseSource("integration")
		}
	}

	switch v.Type {
	case model.TypeManual:
		return model.PhaseSource("manual")
	case model.TypeAutomation:
		if v.WorkflowID != "" {
			return model.AutomationSource(v.WorkflowID)
		}
		if ref != "" {
			return model.AutomationSource(ref)
		}
	case model.TypeTest, model.TypeOther:
	}
	return model.NoSource()
}

// ClassifyAll sets Source on every validation. It runs once per load.
func (c *Classifier) ClassifyAll(reqs []*model.Requirement) {
	for _, r := range reqs {
		for _, v := range r.Validations {
			v.Source = c.Classify(v)
		}
	}
}

func cleanRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	ref = strings.TrimPrefix(strings.ReplaceAll(ref, `\`, "/"), "./")
	return path.Clean(ref)
}
