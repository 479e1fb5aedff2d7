// Package evidence reads test artifacts into immutable evidence records and
// classifies where each validation expects its evidence to come from.
//
// Artifacts are produced by other tools and are read tolerantly: a malformed
// file or entry is logged and skipped, never fatal.
package evidence

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"reqsync/internal/logging"
	"reqsync/internal/model"
)

// PhaseSummary describes one phase results file.
type PhaseSummary struct {
	Name             string           `json:"name"`
	Status           model.LiveStatus `json:"status"`
	UpdatedAt        time.Time        `json:"updated_at,omitzero"`
	DurationSeconds  float64          `json:"duration_seconds,omitempty"`
	RequirementCount int              `json:"requirement_count"`
	File             string           `json:"file"`
}

// Set is everything read from phase results and the vitest report.
type Set struct {
	Records model.EvidenceMap
	// Phases is sorted by name, then file.
	Phases []PhaseSummary
	Vitest VitestReport
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{Records: model.EvidenceMap{}, Vitest: VitestReport{Records: model.EvidenceMap{}, TestFiles: map[string][]string{}}}
}

// Phase returns the summary of the named phase, if one was loaded.
func (s *Set) Phase(name string) (PhaseSummary, bool) {
	for _, p := range s.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseSummary{}, false
}

// LoadPhaseResults reads every *.json file under dir. A missing directory
// yields an empty set.
func LoadPhaseResults(dir string, log *zap.Logger) (*Set, error) {
	log = logging.OrNop(log)
	set := NewSet()

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("walking phase results %s: %w", dir, err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		summary, ok := readPhaseFile(path, set.Records, log)
		if ok {
			set.Phases = append(set.Phases, summary)
		}
	}
	sort.SliceStable(set.Phases, func(i, j int) bool {
		if set.Phases[i].Name != set.Phases[j].Name {
			return set.Phases[i].Name < set.Phases[j].Name
		}
		return set.Phases[i].File < set.Phases[j].File
	})
	return set, nil
}

func readPhaseFile(path string, into model.EvidenceMap, log *zap.Logger) (PhaseSummary, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("skipping unreadable phase results", zap.String("file", path), zap.Error(err))
		return PhaseSummary{}, false
	}
	if !gjson.ValidBytes(data) {
		log.Warn("skipping malformed phase results", zap.String("file", path))
		return PhaseSummary{}, false
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		log.Warn("skipping phase results without a top-level object", zap.String("file", path))
		return PhaseSummary{}, false
	}

	var mtime time.Time
	if info, err := os.Stat(path); err == nil {
		mtime = info.ModTime().UTC()
	}

	name := strings.TrimSpace(root.Get("phase").String())
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	fileTime := parseTime(root.Get("updated_at"))
	if fileTime.IsZero() {
		fileTime = mtime
	}

	summary := PhaseSummary{
		Name:            name,
		Status:          model.NormalizeLiveStatus(root.Get("status").String()),
		UpdatedAt:       fileTime,
		DurationSeconds: root.Get("duration_seconds").Float(),
		File:            path,
	}

	for i, entry := range root.Get("requirements").Array() {
		id := strings.TrimSpace(entry.Get("id").String())
		if !entry.IsObject() || id == "" {
			log.Warn("skipping phase results entry without id", zap.String("file", path), zap.Int("index", i))
			continue
		}
		rec := model.EvidenceRecord{
			ID:              id,
			Status:          model.NormalizeLiveStatus(entry.Get("status").String()),
			Phase:           name,
			Evidence:        evidenceText(entry.Get("evidence")),
			UpdatedAt:       fileTime,
			DurationSeconds: entry.Get("duration_seconds").Float(),
			Origin:          model.OriginPhaseResults,
		}
		if p := strings.TrimSpace(entry.Get("phase").String()); p != "" {
			rec.Phase = p
		}
		if ts := parseTime(entry.Get("updated_at")); !ts.IsZero() {
			rec.UpdatedAt = ts
		}
		into.Add(rec)
		summary.RequirementCount++
	}
	return summary, true
}

// evidenceText accepts a string or a list of strings.
func evidenceText(v gjson.Result) string {
	if !v.IsArray() {
		return strings.TrimSpace(v.String())
	}
	var parts []string
	for _, item := range v.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}

func parseTime(v gjson.Result) time.Time {
	s := strings.TrimSpace(v.String())
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
