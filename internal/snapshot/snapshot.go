// Package snapshot materializes the reconciled state of a scenario after a
// successful sync and reads it back for drift detection.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"reqsync/internal/manual"
	"reqsync/internal/model"
	"reqsync/internal/registry"
	"reqsync/internal/rollup"
	"reqsync/internal/store"
)

// SchemaVersion is bumped on incompatible layout changes.
const SchemaVersion = 1

// Snapshot is the persisted result of a sync.
type Snapshot struct {
	SchemaVersion      int                          `json:"schema_version"`
	SyncID             string                       `json:"sync_id"`
	Scenario           string                       `json:"scenario"`
	SyncedAt           time.Time                    `json:"synced_at"`
	GraphHash          string                       `json:"graph_hash"`
	Files              []FileEntry                  `json:"files"`
	Requirements       map[string]RequirementRecord `json:"requirements"`
	OperationalTargets []Target                     `json:"operational_targets"`
	ManualValidations  ManualDigest                 `json:"manual_validations"`
}

// FileEntry fingerprints one requirement file.
type FileEntry struct {
	Path             string    `json:"path"`
	SHA256           string    `json:"sha256"`
	ModTime          time.Time `json:"mtime"`
	RequirementCount int       `json:"requirement_count"`
}

// RequirementRecord is the derived state of one requirement.
type RequirementRecord struct {
	ID                string             `json:"id"`
	Title             string             `json:"title,omitempty"`
	File              string             `json:"file"`
	Category          string             `json:"category,omitempty"`
	Criticality       string             `json:"criticality,omitempty"`
	PRDRef            string             `json:"prd_ref,omitempty"`
	OperationalTarget string             `json:"operational_target"`
	DeclaredStatus    string             `json:"declared_status"`
	Status            string             `json:"status"`
	LiveStatus        string             `json:"live_status"`
	LiveRollup        string             `json:"live_rollup"`
	Children          []string           `json:"children"`
	Validations       []ValidationRecord `json:"validations"`
}

// ValidationRecord is the derived state of one validation.
type ValidationRecord struct {
	Type        string             `json:"type"`
	Ref         string             `json:"ref,omitempty"`
	WorkflowID  string             `json:"workflow_id,omitempty"`
	Phase       string             `json:"phase,omitempty"`
	Status      string             `json:"status,omitempty"`
	Source      string             `json:"source"`
	LiveStatus  string             `json:"live_status"`
	LiveDetails *model.LiveDetails `json:"live_details,omitempty"`
}

// ManualDigest summarizes the ledger as seen by the sync.
type ManualDigest struct {
	Ledger     string        `json:"ledger"`
	SHA256     string        `json:"sha256,omitempty"`
	EntryCount int           `json:"entry_count"`
	Entries    []ManualEntry `json:"entries"`
}

// ManualEntry is the current attestation of one requirement.
type ManualEntry struct {
	RequirementID string    `json:"requirement_id"`
	Status        string    `json:"status"`
	ValidatedAt   time.Time `json:"validated_at,omitzero"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	ValidatedBy   string    `json:"validated_by,omitempty"`
	ArtifactPath  string    `json:"artifact_path,omitempty"`
}

// Entry returns the digest entry for id.
func (d ManualDigest) Entry(id string) (ManualEntry, bool) {
	for _, e := range d.Entries {
		if e.RequirementID == id {
			return e, true
		}
	}
	return ManualEntry{}, false
}

// File returns the entry for the scenario-relative path.
func (s *Snapshot) File(rel string) (FileEntry, bool) {
	for _, f := range s.Files {
		if f.Path == rel {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Target returns the operational target with the given id.
func (s *Snapshot) Target(id string) (Target, bool) {
	for _, t := range s.OperationalTargets {
		if t.ID == id {
			return t, true
		}
	}
	return Target{}, false
}

// Input is everything Build needs. Requirements must already be enriched
// and rolled up.
type Input struct {
	Scenario string
	Root     string
	SyncID   string
	SyncedAt time.Time
	Registry *registry.Registry
	Graph    *rollup.Graph
	Ledger   *manual.Ledger
}

// Build computes the snapshot, hashing every requirement file as it is on
// disk now.
func Build(in Input) (*Snapshot, error) {
	if in.Registry == nil {
		return nil, errors.New("snapshot: registry is required")
	}
	syncID := in.SyncID
	if syncID == "" {
		syncID = uuid.NewString()
	}
	syncedAt := in.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	s := &Snapshot{
		SchemaVersion:      SchemaVersion,
		SyncID:             syncID,
		Scenario:           in.Scenario,
		SyncedAt:           syncedAt.UTC(),
		Files:              []FileEntry{},
		Requirements:       map[string]RequirementRecord{},
		OperationalTargets: []Target{},
	}
	if in.Graph != nil {
		s.GraphHash = in.Graph.Hash()
	}

	for _, doc := range in.Registry.Documents {
		sum, mtime, err := HashFile(doc.File.Path)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		s.Files = append(s.Files, FileEntry{
			Path:             doc.File.Rel,
			SHA256:           sum,
			ModTime:          mtime,
			RequirementCount: len(doc.Requirements),
		})
	}
	sort.Slice(s.Files, func(i, j int) bool { return s.Files[i].Path < s.Files[j].Path })

	for _, r := range in.Registry.Requirements() {
		prov, _ := in.Registry.Provenance(r.ID)
		s.Requirements[r.ID] = RecordOf(r, prov, in.Graph)
	}
	s.OperationalTargets = BuildTargets(in.Registry)

	digest, err := digestLedger(in.Root, in.Ledger)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	s.ManualValidations = digest
	return s, nil
}

// RecordOf builds the derived record of one requirement. Children come from
// the graph when one is given, so dangling references are left out.
func RecordOf(r *model.Requirement, prov registry.Provenance, g *rollup.Graph) RequirementRecord {
	children := r.Children
	if g != nil {
		children = g.Children(r.ID)
	}
	if children == nil {
		children = []string{}
	}
	rec := RequirementRecord{
		ID:                r.ID,
		Title:             r.Title,
		File:              prov.Rel,
		Category:          r.Category,
		Criticality:       string(r.Criticality),
		PRDRef:            r.PRDRef,
		OperationalTarget: TargetKey(r, prov.Rel),
		DeclaredStatus:    string(r.Declared),
		Status:            string(r.Status),
		LiveStatus:        string(r.LiveStatus.OrUnknown()),
		LiveRollup:        string(r.LiveRollup.OrUnknown()),
		Children:          children,
		Validations:       make([]ValidationRecord, 0, len(r.Validations)),
	}
	for _, v := range r.Validations {
		rec.Validations = append(rec.Validations, ValidationRecord{
			Type:        string(v.Type),
			Ref:         v.Ref,
			WorkflowID:  v.WorkflowID,
			Phase:       v.Phase,
			Status:      string(v.Status),
			Source:      v.Source.String(),
			LiveStatus:  string(v.LiveStatus.OrUnknown()),
			LiveDetails: v.LiveDetails,
		})
	}
	return rec
}

func digestLedger(root string, l *manual.Ledger) (ManualDigest, error) {
	d := ManualDigest{Entries: []ManualEntry{}}
	if l == nil {
		return d, nil
	}
	d.Ledger = l.Path
	if root != "" {
		if rel, err := filepath.Rel(root, l.Path); err == nil && !strings.HasPrefix(rel, "..") {
			d.Ledger = filepath.ToSlash(rel)
		}
	}
	d.EntryCount = len(l.Entries)
	if sum, _, err := HashFile(l.Path); err == nil {
		d.SHA256 = sum
	} else if !errors.Is(err, os.ErrNotExist) {
		return d, err
	}
	for _, id := range l.IDs() {
		e := l.Latest[id]
		d.Entries = append(d.Entries, ManualEntry{
			RequirementID: id,
			Status:        string(e.Status),
			ValidatedAt:   e.ValidatedAt,
			ExpiresAt:     e.ExpiresAt,
			ValidatedBy:   e.ValidatedBy,
			ArtifactPath:  e.ArtifactPath,
		})
	}
	return d, nil
}

// HashFile returns the hex sha256 and modification time of a file.
func HashFile(path string) (string, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", time.Time{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", time.Time{}, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", time.Time{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), info.ModTime().UTC(), nil
}

// Write stores the snapshot atomically.
func Write(path string, s *Snapshot) error {
	b, err := store.MarshalStable(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := store.WriteFileAtomic(path, b, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Read loads a snapshot strictly. A missing file returns an error matching
// os.ErrNotExist.
func Read(path string) (*Snapshot, error) {
	var s Snapshot
	if err := store.ReadJSONStrict(path, &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	if s.Requirements == nil {
		s.Requirements = map[string]RequirementRecord{}
	}
	return &s, nil
}
