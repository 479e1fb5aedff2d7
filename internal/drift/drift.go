// Package drift compares the last snapshot against the current state of a
// scenario. It never writes; findings are returned as data.
package drift

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"reqsync/internal/config"
	"reqsync/internal/discovery"
	"reqsync/internal/logging"
	"reqsync/internal/manual"
	"reqsync/internal/model"
	"reqsync/internal/prd"
	"reqsync/internal/registry"
	"reqsync/internal/snapshot"
)

// Report statuses.
const (
	StatusOK              = "ok"
	StatusDriftDetected   = "drift_detected"
	StatusMissingSnapshot = "missing_snapshot"
)

const missingSnapshotHint = "run reqsync --mode sync to create the snapshot"

// Report is the drift-check document.
type Report struct {
	Status       string    `json:"status"`
	IssueCount   int       `json:"issue_count"`
	Scenario     string    `json:"scenario"`
	SnapshotPath string    `json:"snapshot_path"`
	SyncedAt     time.Time `json:"synced_at,omitzero"`
	Remediation  string    `json:"remediation,omitempty"`

	Files     FileDrift     `json:"files"`
	Artifacts ArtifactDrift `json:"artifacts"`
	Targets   TargetDrift   `json:"operational_targets"`
	Manual    ManualDrift   `json:"manual_validations"`
}

// HasFindings reports whether the CLI should exit with the findings code.
func (r *Report) HasFindings() bool { return r.Status != StatusOK }

// FileDrift compares requirement file hashes.
type FileDrift struct {
	Mismatched      []FileMismatch `json:"mismatched"`
	NewFiles        []string       `json:"new_files"`
	MissingFromDisk []string       `json:"missing_from_disk"`
}

// FileMismatch is a requirement file whose content changed since the sync.
type FileMismatch struct {
	File         string `json:"file"`
	SnapshotHash string `json:"snapshot_hash"`
	CurrentHash  string `json:"current_hash"`
}

// ArtifactDrift reports test artifacts produced after the sync.
type ArtifactDrift struct {
	Stale          bool      `json:"artifact_stale"`
	NewestArtifact string    `json:"newest_artifact,omitempty"`
	NewestModTime  time.Time `json:"newest_mtime,omitzero"`
}

// TargetDrift compares snapshot targets against the PRD checklist.
type TargetDrift struct {
	Skipped             bool             `json:"skipped,omitempty"`
	PRDPath             string           `json:"prd_path,omitempty"`
	StatusMismatches    []TargetMismatch `json:"status_mismatches"`
	MissingFromSnapshot []string         `json:"missing_from_snapshot"`
	MissingFromPRD      []string         `json:"missing_from_prd"`
}

// TargetMismatch is an operational target whose PRD checkbox disagrees
// with the snapshot.
type TargetMismatch struct {
	Target         string `json:"target"`
	SnapshotStatus string `json:"snapshot_status"`
	PRDStatus      string `json:"prd_status"`
}

// ManualDrift reports problems with manual attestations.
type ManualDrift struct {
	Expired             []ExpiredEntry  `json:"expired"`
	MissingMetadata     []MetadataIssue `json:"missing_metadata"`
	MissingFromManifest []string        `json:"missing_from_manifest"`
	Stale               []string        `json:"stale"`
}

// ExpiredEntry is a current attestation past its expiry.
type ExpiredEntry struct {
	RequirementID string    `json:"requirement_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// MetadataIssue is a current attestation lacking bookkeeping fields.
type MetadataIssue struct {
	RequirementID string   `json:"requirement_id"`
	Fields        []string `json:"fields"`
}

// Input is the current state to compare against the snapshot.
type Input struct {
	Scenario     string
	SnapshotPath string
	// Snapshot is nil when none was found.
	Snapshot *snapshot.Snapshot
	// Files are the requirement files discovered now.
	Files []discovery.File
	// Registry supplies manual-type validations; it may be nil.
	Registry *registry.Registry
	Ledger   *manual.Ledger
	// PRD is nil when the scenario has no PRD; target drift is then skipped.
	PRD *prd.Checklist
	// Artifacts are files or directories holding test evidence.
	Artifacts []string
	Now       time.Time
}

// Check computes the drift report.
func Check(in Input) (*Report, error) {
	r := &Report{
		Scenario:     in.Scenario,
		SnapshotPath: in.SnapshotPath,
		Files:        FileDrift{Mismatched: []FileMismatch{}, NewFiles: []string{}, MissingFromDisk: []string{}},
		Targets:      TargetDrift{StatusMismatches: []TargetMismatch{}, MissingFromSnapshot: []string{}, MissingFromPRD: []string{}},
		Manual: ManualDrift{
			Expired:             []ExpiredEntry{},
			MissingMetadata:     []MetadataIssue{},
			MissingFromManifest: []string{},
			Stale:               []string{},
		},
	}
	if in.Snapshot == nil {
		r.Status = StatusMissingSnapshot
		r.IssueCount = 1
		r.Remediation = missingSnapshotHint
		return r, nil
	}
	r.SyncedAt = in.Snapshot.SyncedAt

	if err := checkFiles(r, in); err != nil {
		return nil, err
	}
	if err := checkArtifacts(r, in); err != nil {
		return nil, err
	}
	checkTargets(r, in)
	checkManual(r, in)

	r.IssueCount = r.count()
	r.Status = StatusOK
	if r.IssueCount > 0 {
		r.Status = StatusDriftDetected
	}
	return r, nil
}

func (r *Report) count() int {
	n := len(r.Files.Mismatched) + len(r.Files.NewFiles) + len(r.Files.MissingFromDisk)
	if r.Artifacts.Stale {
		n++
	}
	n += len(r.Targets.StatusMismatches) + len(r.Targets.MissingFromSnapshot) + len(r.Targets.MissingFromPRD)
	n += len(r.Manual.Expired) + len(r.Manual.MissingMetadata) + len(r.Manual.MissingFromManifest) + len(r.Manual.Stale)
	return n
}

func checkFiles(r *Report, in Input) error {
	seen := map[string]bool{}
	for _, f := range in.Files {
		seen[f.Rel] = true
		entry, ok := in.Snapshot.File(f.Rel)
		if !ok {
			r.Files.NewFiles = append(r.Files.NewFiles, f.Rel)
			continue
		}
		sum, _, err := snapshot.HashFile(f.Path)
		if err != nil {
			return fmt.Errorf("drift: %w", err)
		}
		if sum != entry.SHA256 {
			r.Files.Mismatched = append(r.Files.Mismatched, FileMismatch{File: f.Rel, SnapshotHash: entry.SHA256, CurrentHash: sum})
		}
	}
	for _, entry := range in.Snapshot.Files {
		if !seen[entry.Path] {
			r.Files.MissingFromDisk = append(r.Files.MissingFromDisk, entry.Path)
		}
	}
	sort.Slice(r.Files.Mismatched, func(i, j int) bool { return r.Files.Mismatched[i].File < r.Files.Mismatched[j].File })
	sort.Strings(r.Files.NewFiles)
	sort.Strings(r.Files.MissingFromDisk)
	return nil
}

func checkArtifacts(r *Report, in Input) error {
	for _, p := range in.Artifacts {
		path, mtime, err := newest(p)
		if err != nil {
			return fmt.Errorf("drift: %w", err)
		}
		if path != "" && mtime.After(r.Artifacts.NewestModTime) {
			r.Artifacts.NewestArtifact = path
			r.Artifacts.NewestModTime = mtime.UTC()
		}
	}
	r.Artifacts.Stale = r.Artifacts.NewestModTime.After(in.Snapshot.SyncedAt)
	return nil
}

// newest returns the most recently modified regular file at p, descending
// into directories. A missing path yields an empty result.
func newest(p string) (string, time.Time, error) {
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	if !info.IsDir() {
		return p, info.ModTime(), nil
	}
	var best string
	var bestTime time.Time
	err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.ModTime().After(bestTime) {
			best, bestTime = path, fi.ModTime()
		}
		return nil
	})
	return best, bestTime, err
}

// checkTargets compares operational targets. The PRD only records a binary
// checkbox, so any snapshot status other than complete compares as pending.
func checkTargets(r *Report, in Input) {
	if in.PRD == nil {
		r.Targets.Skipped = true
		return
	}
	r.Targets.PRDPath = in.PRD.Path

	inSnapshot := map[string]bool{}
	for _, t := range in.Snapshot.OperationalTargets {
		if !t.IsOperational() {
			continue
		}
		inSnapshot[t.ID] = true
		entry, ok := in.PRD.Get(t.ID)
		if !ok {
			r.Targets.MissingFromPRD = append(r.Targets.MissingFromPRD, t.ID)
			continue
		}
		snap := model.StatusPending
		if t.Status == string(model.StatusComplete) {
			snap = model.StatusComplete
		}
		if snap != entry.Status() {
			r.Targets.StatusMismatches = append(r.Targets.StatusMismatches, TargetMismatch{
				Target:         t.ID,
				SnapshotStatus: t.Status,
				PRDStatus:      string(entry.Status()),
			})
		}
	}
	for _, id := range in.PRD.IDs() {
		if !inSnapshot[id] {
			r.Targets.MissingFromSnapshot = append(r.Targets.MissingFromSnapshot, id)
		}
	}
	sort.Strings(r.Targets.MissingFromPRD)
}

func checkManual(r *Report, in Input) {
	ledger := in.Ledger
	if ledger == nil {
		ledger = &manual.Ledger{Latest: map[string]manual.Entry{}}
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	expired := map[string]bool{}
	for _, id := range ledger.IDs() {
		e := ledger.Latest[id]
		if e.Expired(now) {
			expired[id] = true
			r.Manual.Expired = append(r.Manual.Expired, ExpiredEntry{RequirementID: id, ExpiresAt: e.ExpiresAt})
		}
		if missing := e.MissingMetadata(); len(missing) > 0 {
			r.Manual.MissingMetadata = append(r.Manual.MissingMetadata, MetadataIssue{RequirementID: id, Fields: missing})
		}
		recorded, ok := in.Snapshot.ManualValidations.Entry(id)
		if !ok || e.ValidatedAt.After(recorded.ValidatedAt) {
			r.Manual.Stale = append(r.Manual.Stale, id)
		}
	}

	// Attestations the snapshot relied on must still be in the ledger and
	// still be valid.
	missing := map[string]bool{}
	for _, e := range in.Snapshot.ManualValidations.Entries {
		id := e.RequirementID
		if _, ok := ledger.Latest[id]; ok {
			continue
		}
		missing[id] = true
		if !expired[id] && !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
			expired[id] = true
			r.Manual.Expired = append(r.Manual.Expired, ExpiredEntry{RequirementID: id, ExpiresAt: e.ExpiresAt})
		}
	}

	if in.Registry != nil {
		for _, req := range in.Registry.Requirements() {
			if !hasManualValidation(req) {
				continue
			}
			if _, ok := ledger.Latest[req.ID]; !ok {
				missing[req.ID] = true
			}
		}
	}
	for id := range missing {
		r.Manual.MissingFromManifest = append(r.Manual.MissingFromManifest, id)
	}
	sort.Strings(r.Manual.MissingFromManifest)
	sort.Slice(r.Manual.Expired, func(i, j int) bool {
		return r.Manual.Expired[i].RequirementID < r.Manual.Expired[j].RequirementID
	})
}

func hasManualValidation(r *model.Requirement) bool {
	for _, v := range r.Validations {
		if v.Type == model.TypeManual {
			return true
		}
	}
	return false
}

// Run loads everything a drift check needs for the scenario at root and
// runs Check.
func Run(scenario, root string, cfg config.Config, now time.Time, log *zap.Logger) (*Report, error) {
	log = logging.OrNop(log)
	snapPath := config.Resolve(root, cfg.SnapshotPath)
	in := Input{
		Scenario:     scenario,
		SnapshotPath: cfg.SnapshotPath,
		Now:          now,
	}

	snap, err := snapshot.Read(snapPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Debug("no snapshot", zap.String("path", snapPath))
		return Check(in)
	case err != nil:
		return nil, err
	}
	in.Snapshot = snap

	files, err := discovery.CollectRequirementFiles(root, cfg, log)
	if err != nil {
		return nil, err
	}
	in.Files = files
	if in.Registry, err = registry.Load(files); err != nil {
		return nil, err
	}

	ledgerPath := config.Resolve(root, cfg.ManualLedger)
	if in.Ledger, err = manual.Load(ledgerPath, log); err != nil {
		return nil, err
	}
	if in.PRD, err = prd.Load(config.Resolve(root, cfg.PRDPath)); err != nil {
		return nil, err
	}
	in.Artifacts = []string{
		config.Resolve(root, cfg.PhaseResultsDir),
		config.Resolve(root, cfg.VitestReport),
		ledgerPath,
	}
	return Check(in)
}
