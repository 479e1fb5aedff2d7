// Package registry parses requirement files into the global requirement
// index.
//
// The parser is strict about structure and closed enumerations (a registry
// that cannot be trusted aborts the run) and lenient about everything else:
// unknown fields are ignored here and preserved verbatim by sync.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"reqsync/internal/discovery"
	"reqsync/internal/model"
)

// Validation list keys. Files use either; sync writes back to the one read.
const (
	KeyValidation  = "validation"
	KeyValidations = "validations"
)

// Document is one parsed requirement file.
type Document struct {
	File    discovery.File
	Raw     []byte
	ModTime time.Time

	Requirements []*model.Requirement
	// keys holds the validation list key per requirement, parallel to Requirements.
	keys []string
}

// ValidationKey returns the key the i-th requirement keeps its validations under.
func (d *Document) ValidationKey(i int) string {
	if i < 0 || i >= len(d.keys) || d.keys[i] == "" {
		return KeyValidation
	}
	return d.keys[i]
}

// Provenance is bookkeeping about where a requirement came from. It never
// influences rollup.
type Provenance struct {
	File string
	Rel  string
	// Index is the position of the requirement in its file's array.
	Index int
	// OriginalStatus is the status string exactly as declared.
	OriginalStatus string
	ValidationKey  string
}

// ParseFile reads and normalizes one requirement file.
func ParseFile(f discovery.File) (*Document, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Rel, err)
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.Rel, err)
	}
	doc, err := ParseBytes(f, data)
	if err != nil {
		return nil, err
	}
	doc.ModTime = info.ModTime().UTC()
	return doc, nil
}

// ParseBytes normalizes the contents of one requirement file.
func ParseBytes(f discovery.File, data []byte) (*Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, malformedf(f.Rel, "invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, malformedf(f.Rel, "top-level value must be an object")
	}

	doc := &Document{File: f, Raw: data}
	list := root.Get("requirements")
	if !list.Exists() {
		return doc, nil
	}
	if !list.IsArray() {
		return nil, malformedf(f.Rel, "\"requirements\" must be an array")
	}

	for i, item := range list.Array() {
		if !item.IsObject() {
			return nil, malformedf(f.Rel, "requirements[%d] must be an object", i)
		}
		req, key, err := parseRequirement(f.Rel, i, item)
		if err != nil {
			return nil, err
		}
		doc.Requirements = append(doc.Requirements, req)
		doc.keys = append(doc.keys, key)
	}
	return doc, nil
}

func parseRequirement(file string, idx int, item gjson.Result) (*model.Requirement, string, error) {
	id := strings.TrimSpace(item.Get("id").String())
	if id == "" {
		return nil, "", invalidf(file, "requirements[%d] has no id", idx)
	}

	status, err := model.ParseRequirementStatus(item.Get("status").String())
	if err != nil {
		return nil, "", invalidf(file, "requirement %s: %v", id, err)
	}
	crit, err := model.ParseCriticality(item.Get("criticality").String())
	if err != nil {
		return nil, "", invalidf(file, "requirement %s: %v", id, err)
	}

	req := &model.Requirement{
		ID:          id,
		Title:       item.Get("title").String(),
		Description: item.Get("description").String(),
		Category:    item.Get("category").String(),
		Criticality: crit,
		PRDRef:      item.Get("prd_ref").String(),
		Tags:        stringList(item.Get("tags")),
		Declared:    status,
		Status:      status,
		Children:    stringList(item.Get("children")),
		DependsOn:   stringList(item.Get("depends_on")),
		Blocks:      stringList(item.Get("blocks")),
		Validations: []*model.Validation{},
	}

	key := KeyValidation
	list := item.Get(KeyValidation)
	if !list.Exists() {
		if alt := item.Get(KeyValidations); alt.Exists() {
			key, list = KeyValidations, alt
		}
	}
	if list.Exists() {
		if !list.IsArray() {
			return nil, "", invalidf(file, "requirement %s: %q must be an array", id, key)
		}
		req.HasValidations = true
		for j, raw := range list.Array() {
			if !raw.IsObject() {
				return nil, "", invalidf(file, "requirement %s: %s[%d] must be an object", id, key, j)
			}
			v, err := parseValidation(raw)
			if err != nil {
				return nil, "", invalidf(file, "requirement %s: %s[%d]: %v", id, key, j, err)
			}
			req.Validations = append(req.Validations, v)
		}
	}
	return req, key, nil
}

func parseValidation(raw gjson.Result) (*model.Validation, error) {
	status, err := model.ParseValidationStatus(raw.Get("status").String())
	if err != nil {
		return nil, err
	}
	rawType := raw.Get("type").String()
	return &model.Validation{
		Type:       model.ParseValidationType(rawType),
		RawType:    rawType,
		Ref:        strings.TrimSpace(raw.Get("ref").String()),
		WorkflowID: strings.TrimSpace(raw.Get("workflow_id").String()),
		Phase:      strings.TrimSpace(raw.Get("phase").String()),
		Status:     status,
	}, nil
}

// stringList accepts an array of strings or a single string.
func stringList(v gjson.Result) []string {
	out := []string{}
	switch {
	case v.IsArray():
		for _, item := range v.Array() {
			if s := strings.TrimSpace(item.String()); s != "" {
				out = append(out, s)
			}
		}
	case v.Type == gjson.String:
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Registry is the global index over every parsed requirement file.
type Registry struct {
	Documents []*Document

	byID  map[string]*model.Requirement
	order []*model.Requirement
	prov  map[string]Provenance
}

// Load parses every file and builds the global index.
func Load(files []discovery.File) (*Registry, error) {
	docs := make([]*Document, 0, len(files))
	for _, f := range files {
		doc, err := ParseFile(f)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return New(docs)
}

// New indexes already-parsed documents. A requirement id declared twice is
// fatal, whether in one file or across files.
func New(docs []*Document) (*Registry, error) {
	r := &Registry{
		Documents: docs,
		byID:      make(map[string]*model.Requirement),
		prov:      make(map[string]Provenance),
	}
	for _, doc := range docs {
		raw := gjson.ParseBytes(doc.Raw).Get("requirements").Array()
		for i, req := range doc.Requirements {
			if prev, ok := r.prov[req.ID]; ok {
				return nil, duplicateError(req.ID, prev.Rel, doc.File.Rel)
			}
			original := ""
			if i < len(raw) {
				original = raw[i].Get("status").String()
			}
			r.byID[req.ID] = req
			r.order = append(r.order, req)
			r.prov[req.ID] = Provenance{
				File:           doc.File.Path,
				Rel:            doc.File.Rel,
				Index:          i,
				OriginalStatus: original,
				ValidationKey:  doc.ValidationKey(i),
			}
		}
	}
	return r, nil
}

// Get returns the requirement with the given id.
func (r *Registry) Get(id string) (*model.Requirement, bool) {
	req, ok := r.byID[id]
	return req, ok
}

// Provenance returns the side-table entry for id.
func (r *Registry) Provenance(id string) (Provenance, bool) {
	p, ok := r.prov[id]
	return p, ok
}

// Requirements returns every requirement in discovery order.
func (r *Registry) Requirements() []*model.Requirement {
	return r.order
}

// IDs returns every requirement id in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of indexed requirements.
func (r *Registry) Len() int { return len(r.byID) }
