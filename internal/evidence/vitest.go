package evidence

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"reqsync/internal/logging"
	"reqsync/internal/model"
)

// UIPrefix is the scenario-relative folder of the UI project. Vitest reports
// test files relative to it.
const UIPrefix = "ui/"

// VitestPhase is the phase vitest evidence is attributed to.
const VitestPhase = "unit"

var testFilePatterns = []string{
	"**/*.test.{ts,tsx,js,jsx}",
	"**/*.spec.{ts,tsx,js,jsx}",
}

// VitestReport is the per-requirement evidence emitted by the UI test run.
type VitestReport struct {
	Path    string
	ModTime time.Time
	Records model.EvidenceMap
	// TestFiles maps a requirement id to the scenario-relative test files
	// that cover it, sorted and unique.
	TestFiles map[string][]string
}

// LoadVitestReport reads the vitest requirement report at path. A missing
// report is empty; a malformed one is logged and treated as empty.
func LoadVitestReport(p string, log *zap.Logger) (VitestReport, error) {
	log = logging.OrNop(log)
	report := VitestReport{Path: p, Records: model.EvidenceMap{}, TestFiles: map[string][]string{}}

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("read vitest report: %w", err)
	}
	if info, err := os.Stat(p); err == nil {
		report.ModTime = info.ModTime().UTC()
	}
	if !gjson.ValidBytes(data) {
		log.Warn("ignoring malformed vitest report", zap.String("file", p))
		return report, nil
	}

	for i, entry := range gjson.GetBytes(data, "requirements").Array() {
		id := strings.TrimSpace(entry.Get("id").String())
		if !entry.IsObject() || id == "" {
			log.Warn("skipping vitest entry without id", zap.Int("index", i))
			continue
		}
		text := evidenceText(entry.Get("evidence"))
		report.Records.Add(model.EvidenceRecord{
			ID:              id,
			Status:          model.NormalizeLiveStatus(entry.Get("status").String()),
			Phase:           VitestPhase,
			Evidence:        text,
			UpdatedAt:       report.ModTime,
			DurationSeconds: entry.Get("duration_seconds").Float(),
			Origin:          model.OriginVitest,
		})
		if files := ExtractTestFiles(text); len(files) > 0 {
			report.TestFiles[id] = mergeSorted(report.TestFiles[id], files)
		}
	}
	return report, nil
}

// ExtractTestFiles recovers test file paths from a vitest evidence
// string. Pieces are separated by ";" and may carry a test name after the
// path ("src/a.test.tsx > renders"). Paths are returned scenario-relative.
func ExtractTestFiles(text string) []string {
	var out []string
	for _, piece := range strings.Split(text, ";") {
		for _, field := range strings.Fields(piece) {
			candidate := strings.Trim(field, `"'(),`)
			candidate = strings.TrimPrefix(candidate, "./")
			if candidate == "" || !isTestFile(candidate) {
				continue
			}
			if !strings.HasPrefix(candidate, UIPrefix) {
				candidate = UIPrefix + candidate
			}
			out = append(out, path.Clean(candidate))
		}
	}
	return mergeSorted(nil, out)
}

func isTestFile(p string) bool {
	for _, pattern := range testFilePatterns {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

func mergeSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
