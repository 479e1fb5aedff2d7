// Package manual implements the append-only ledger of human attestations.
//
// Each line of the ledger is one JSON object. Lines are never rewritten; the
// current state of a requirement is the entry with the latest validated_at.
package manual

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"reqsync/internal/logging"
	"reqsync/internal/model"
)

// Phase is the evidence phase manual attestations are recorded under.
const Phase = "manual"

const lockRetryDelay = 50 * time.Millisecond

var ErrInvalidEntry = errors.New("invalid manual validation")

// Entry is one attestation line.
type Entry struct {
	RequirementID string           `json:"requirement_id"`
	Status        model.LiveStatus `json:"status"`
	ValidatedAt   time.Time        `json:"validated_at,omitzero"`
	ExpiresAt     time.Time        `json:"expires_at,omitzero"`
	ValidatedBy   string           `json:"validated_by,omitempty"`
	ArtifactPath  string           `json:"artifact_path,omitempty"`
	Notes         string           `json:"notes,omitempty"`

	// Line is the 1-based ledger line the entry was read from.
	Line int `json:"-"`
}

// Expired reports whether the attestation is no longer valid at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// MissingMetadata lists the bookkeeping fields the entry lacks.
func (e Entry) MissingMetadata() []string {
	var missing []string
	if e.ValidatedAt.IsZero() {
		missing = append(missing, "validated_at")
	}
	if e.ExpiresAt.IsZero() {
		missing = append(missing, "expires_at")
	}
	if strings.TrimSpace(e.ValidatedBy) == "" {
		missing = append(missing, "validated_by")
	}
	return missing
}

// Input is an attestation as entered by a person.
type Input struct {
	RequirementID string
	Status        string
	ValidatedBy   string
	ArtifactPath  string
	Notes         string
	// ValidatedAt defaults to now.
	ValidatedAt time.Time
	// ExpiresAt wins over ExpiresInDays when set.
	ExpiresAt     time.Time
	ExpiresInDays int
}

// Build normalizes an Input into a ledger Entry. defaultDays applies when
// neither ExpiresAt nor ExpiresInDays is set.
func Build(in Input, now time.Time, defaultDays int) (Entry, error) {
	id := strings.TrimSpace(in.RequirementID)
	if id == "" {
		return Entry{}, fmt.Errorf("%w: requirement id is required", ErrInvalidEntry)
	}
	status, err := ParseStatus(in.Status)
	if err != nil {
		return Entry{}, err
	}
	if in.ExpiresInDays < 0 {
		return Entry{}, fmt.Errorf("%w: expiry days must not be negative", ErrInvalidEntry)
	}

	validatedAt := in.ValidatedAt
	if validatedAt.IsZero() {
		validatedAt = now
	}
	validatedAt = validatedAt.UTC()

	expiresAt := in.ExpiresAt.UTC()
	if in.ExpiresAt.IsZero() {
		days := in.ExpiresInDays
		if days == 0 {
			days = defaultDays
		}
		expiresAt = validatedAt.AddDate(0, 0, days)
	}
	if !expiresAt.After(validatedAt) {
		return Entry{}, fmt.Errorf("%w: expires_at must be after validated_at", ErrInvalidEntry)
	}

	return Entry{
		RequirementID: id,
		Status:        status,
		ValidatedAt:   validatedAt,
		ExpiresAt:     expiresAt,
		ValidatedBy:   strings.TrimSpace(in.ValidatedBy),
		ArtifactPath:  strings.TrimSpace(in.ArtifactPath),
		Notes:         strings.TrimSpace(in.Notes),
	}, nil
}

// ParseStatus accepts passed, failed, skipped or unknown (and the usual
// synonyms of the first three).
func ParseStatus(raw string) (model.LiveStatus, error) {
	s := model.NormalizeLiveStatus(raw)
	switch s {
	case model.LivePassed, model.LiveFailed, model.LiveSkipped:
		return s, nil
	case model.LiveUnknown:
		if strings.EqualFold(strings.TrimSpace(raw), "unknown") {
			return s, nil
		}
	case model.LiveNotRun, model.LiveNone:
	}
	return "", fmt.Errorf("%w: status %q (expected passed|failed|skipped|unknown)", ErrInvalidEntry, raw)
}

// Append writes e as one line at the end of the ledger, holding an exclusive
// lock on <path>.lock for the duration of the write.
func Append(ctx context.Context, path string, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode manual validation: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock ledger: %s is held by another process", path)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	return f.Close()
}

// Ledger is the reduced view of the attestation log.
type Ledger struct {
	Path    string
	ModTime time.Time
	// Entries holds every well-formed line in file order.
	Entries []Entry
	// Latest is the current entry per requirement.
	Latest map[string]Entry
}

// IDs returns the requirement ids with a current entry, sorted.
func (l *Ledger) IDs() []string {
	ids := make([]string, 0, len(l.Latest))
	for id := range l.Latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MaxLineBytes bounds one ledger line; longer lines are skipped.
const MaxLineBytes = 4 * 1024 * 1024

// Load reads and reduces the ledger at path. A missing ledger is empty;
// malformed lines are logged and skipped.
func Load(path string, log *zap.Logger) (*Ledger, error) {
	log = logging.OrNop(log)
	l := &Ledger{Path: path, Latest: map[string]Entry{}}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil {
		l.ModTime = info.ModTime().UTC()
	}

	br := bufio.NewReader(f)
	lineNo := 0
	for {
		raw, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read ledger: %w", readErr)
		}
		if len(raw) > 0 {
			lineNo++
			l.addLine(raw, lineNo, log)
		}
		if readErr != nil {
			break
		}
	}
	return l, nil
}

func parseLine(text string) (Entry, error) {
	if !gjson.Valid(text) {
		return Entry{}, errors.New("invalid JSON")
	}
	row := gjson.Parse(text)
	if !row.IsObject() {
		return Entry{}, errors.New("line is not an object")
	}
	id := strings.TrimSpace(row.Get("requirement_id").String())
	if id == "" {
		return Entry{}, errors.New("missing requirement_id")
	}
	status, err := ParseStatus(row.Get("status").String())
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		RequirementID: id,
		Status:        status,
		ValidatedAt:   parseTime(row.Get("validated_at").String()),
		ExpiresAt:     parseTime(row.Get("expires_at").String()),
		ValidatedBy:   row.Get("validated_by").String(),
		ArtifactPath:  row.Get("artifact_path").String(),
		Notes:         row.Get("notes").String(),
	}, nil
}

func parseTime(s string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func (l *Ledger) addLine(raw []byte, lineNo int, log *zap.Logger) {
	if len(raw) > MaxLineBytes {
		log.Warn("skipping oversized ledger line", zap.String("file", l.Path), zap.Int("line", lineNo), zap.Int("bytes", len(raw)))
		return
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return
	}
	e, err := parseLine(text)
	if err != nil {
		log.Warn("skipping malformed ledger line", zap.String("file", l.Path), zap.Int("line", lineNo), zap.Error(err))
		return
	}
	e.Line = lineNo
	l.Entries = append(l.Entries, e)
	if cur, ok := l.Latest[e.RequirementID]; !ok || !e.ValidatedAt.Before(cur.ValidatedAt) {
		l.Latest[e.RequirementID] = e
	}
}

// Records folds the current ledger state into evidence records under the
// manual phase. Expired attestations become not_run.
func Records(l *Ledger, now time.Time) model.EvidenceMap {
	out := model.EvidenceMap{}
	if l == nil {
		return out
	}
	for _, id := range l.IDs() {
		e := l.Latest[id]
		rec := model.EvidenceRecord{
			ID:        id,
			Status:    e.Status,
			Phase:     Phase,
			Evidence:  describe(e),
			UpdatedAt: e.ValidatedAt,
			Origin:    model.OriginManual,
		}
		if e.Expired(now) {
			rec.Status = model.LiveNotRun
			rec.Evidence = fmt.Sprintf("manual validation expired at %s", e.ExpiresAt.Format(time.RFC3339))
			if e.Notes != "" {
				rec.Evidence += "; " + e.Notes
			}
		}
		out.Add(rec)
	}
	return out
}

func describe(e Entry) string {
	var parts []string
	if e.ValidatedBy != "" {
		parts = append(parts, "validated by "+e.ValidatedBy)
	}
	if e.ArtifactPath != "" {
		parts = append(parts, "artifact "+e.ArtifactPath)
	}
	if e.Notes != "" {
		parts = append(parts, e.Notes)
	}
	return strings.Join(parts, "; ")
}
