package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"reqsync/internal/config"
	"reqsync/internal/discovery"
	"reqsync/internal/manual"
	"reqsync/internal/reconcile"
	"reqsync/internal/registry"
	"reqsync/internal/report"
)

const (
	ExitSuccess           = 0
	ExitFindings          = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
	ExitIntegrityError    = 5
	ExitGuardViolation    = 6
)

// Mode selects what a reqsync invocation does.
type Mode string

const (
	ModeReport       Mode = "report"
	ModeSync         Mode = "sync"
	ModePhaseInspect Mode = "phase-inspect"
	ModeDriftCheck   Mode = "drift-check"
)

// Invocation is the canonical description of one reqsync run, built from
// flags before any scenario file is read.
type Invocation struct {
	Scenario         string
	Mode             Mode
	Format           report.Format
	Phase            string
	PruneStale       bool
	AllowPartialSync bool
	// OutputPath is empty for stdout; otherwise it is absolute.
	OutputPath string
	Verbose    bool
}

// ManualInvocation is the canonical description of a manual-log run.
type ManualInvocation struct {
	Scenario string
	Input    manual.Input
	// Manifest overrides the configured ledger path when set.
	Manifest string
	DryRun   bool
	Verbose  bool
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// rawFlags holds flag values exactly as typed.
type rawFlags struct {
	scenario         string
	mode             string
	format           string
	phase            string
	output           string
	pruneStale       bool
	allowPartialSync bool
	verbose          bool
}

// canonicalize validates raw flags into an Invocation. cwd resolves a
// relative --output.
func (f rawFlags) canonicalize(cwd string) (Invocation, error) {
	scenario := strings.TrimSpace(f.scenario)
	if scenario == "" {
		return Invocation{}, invalidInvocationf("--scenario is required")
	}
	mode, err := parseMode(f.mode)
	if err != nil {
		return Invocation{}, err
	}
	format, err := report.ParseFormat(f.format)
	if err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if format == report.FormatTrace && (mode == ModePhaseInspect || mode == ModeDriftCheck) {
		return Invocation{}, invalidInvocationf("--format trace is only available for report and sync")
	}
	phase := strings.ToLower(strings.TrimSpace(f.phase))
	if mode == ModePhaseInspect && phase == "" {
		return Invocation{}, invalidInvocationf("--phase is required with --mode phase-inspect")
	}
	if f.pruneStale && mode != ModeSync {
		return Invocation{}, invalidInvocationf("--prune-stale only applies to --mode sync")
	}

	inv := Invocation{
		Scenario:         scenario,
		Mode:             mode,
		Format:           format,
		Phase:            phase,
		PruneStale:       f.pruneStale,
		AllowPartialSync: f.allowPartialSync,
		Verbose:          f.verbose,
	}
	if strings.TrimSpace(f.output) != "" {
		if inv.OutputPath, err = resolveUnder(cwd, f.output); err != nil {
			return Invocation{}, err
		}
	}
	return inv, nil
}

func parseMode(raw string) (Mode, error) {
	n := strings.ToLower(strings.TrimSpace(raw))
	switch Mode(n) {
	case ModeReport, ModeSync, ModePhaseInspect, ModeDriftCheck:
		return Mode(n), nil
	case "":
		return ModeReport, nil
	default:
		return "", invalidInvocationf("invalid --mode %q (expected report|sync|phase-inspect|drift-check)", raw)
	}
}

// rawManualFlags holds manual-log flag values exactly as typed.
type rawManualFlags struct {
	scenario    string
	requirement string
	status      string
	notes       string
	artifact    string
	validatedBy string
	validatedAt string
	expiresAt   string
	expiresIn   int
	manifest    string
	dryRun      bool
	verbose     bool
}

func (f rawManualFlags) canonicalize(cwd string, expiresInSet bool) (ManualInvocation, error) {
	scenario := strings.TrimSpace(f.scenario)
	if scenario == "" {
		return ManualInvocation{}, invalidInvocationf("--scenario is required")
	}
	if strings.TrimSpace(f.requirement) == "" {
		return ManualInvocation{}, invalidInvocationf("--requirement is required")
	}
	if strings.TrimSpace(f.status) == "" {
		return ManualInvocation{}, invalidInvocationf("--status is required")
	}
	if expiresInSet && strings.TrimSpace(f.expiresAt) != "" {
		return ManualInvocation{}, invalidInvocationf("--expires-in and --expires-at are mutually exclusive")
	}
	if expiresInSet && f.expiresIn <= 0 {
		return ManualInvocation{}, invalidInvocationf("--expires-in must be a positive number of days")
	}

	validatedAt, err := parseTimestamp("--validated-at", f.validatedAt)
	if err != nil {
		return ManualInvocation{}, err
	}
	expiresAt, err := parseTimestamp("--expires-at", f.expiresAt)
	if err != nil {
		return ManualInvocation{}, err
	}

	inv := ManualInvocation{
		Scenario: scenario,
		Input: manual.Input{
			RequirementID: strings.TrimSpace(f.requirement),
			Status:        f.status,
			ValidatedBy:   f.validatedBy,
			ArtifactPath:  f.artifact,
			Notes:         f.notes,
			ValidatedAt:   validatedAt,
			ExpiresAt:     expiresAt,
			ExpiresInDays: f.expiresIn,
		},
		DryRun:  f.dryRun,
		Verbose: f.verbose,
	}
	if strings.TrimSpace(f.manifest) != "" {
		if inv.Manifest, err = resolveUnder(cwd, f.manifest); err != nil {
			return ManualInvocation{}, err
		}
	}
	return inv, nil
}

// parseTimestamp accepts RFC 3339 timestamps and plain dates.
func parseTimestamp(flag, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.DateOnly, raw); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, invalidInvocationf("invalid %s %q (expected RFC 3339 timestamp or YYYY-MM-DD)", flag, raw)
}

func resolveUnder(dir, p string) (string, error) {
	clean := filepath.Clean(strings.TrimSpace(p))
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Clean(filepath.Join(dir, clean)), nil
}

// ExitCode maps an error returned by a command onto the semantic exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var integrity *registry.IntegrityError
	switch {
	case errors.Is(err, reconcile.ErrGuard):
		return ExitGuardViolation
	case errors.As(err, &integrity):
		return ExitIntegrityError
	case errors.Is(err, discovery.ErrScenarioNotFound),
		errors.Is(err, discovery.ErrRequirementsMissing),
		errors.Is(err, config.ErrInvalid):
		return ExitConfigError
	case errors.Is(err, manual.ErrInvalidEntry):
		return ExitInvalidInvocation
	}
	return ExitInternalError
}
