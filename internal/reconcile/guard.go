package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"reqsync/internal/config"
)

var ErrGuard = errors.New("sync guard violation")

// GuardError reports why sync refused to write.
type GuardError struct {
	Missing []string
	Skipped []string
	Msg     string
}

func (e *GuardError) Error() string {
	if e == nil {
		return ""
	}
	var parts []string
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "phases not run: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Skipped) > 0 {
		parts = append(parts, "phases skipped: "+strings.Join(e.Skipped, ", "))
	}
	parts = append(parts, "run the full test suite or pass --allow-partial-sync")
	return fmt.Sprintf("%s: %s", ErrGuard.Error(), strings.Join(parts, "; "))
}

func (e *GuardError) Unwrap() error { return ErrGuard }

// Guard holds the test-run metadata sync is gated on.
type Guard struct {
	Required []string
	// TestPhases is the raw REQSYNC_TEST_PHASES value: a comma or space
	// separated phase list, or "all".
	TestPhases string
	// PhaseStatuses is the raw REQSYNC_PHASE_STATUSES value: "phase=status"
	// pairs separated by commas.
	PhaseStatuses string
	AllowPartial  bool
}

// GuardFromEnv reads the guard inputs from the environment. allowFlag is the
// --allow-partial-sync flag; REQSYNC_ALLOW_PARTIAL_SYNC has the same effect.
func GuardFromEnv(required []string, getenv func(string) string, allowFlag bool) Guard {
	g := Guard{Required: required, AllowPartial: allowFlag}
	if getenv == nil {
		return g
	}
	g.TestPhases = getenv(config.EnvTestPhases)
	g.PhaseStatuses = getenv(config.EnvPhaseStatuses)
	switch strings.ToLower(strings.TrimSpace(getenv(config.EnvAllowPartialSync))) {
	case "1", "true", "yes":
		g.AllowPartial = true
	}
	return g
}

// Check returns a *GuardError unless the metadata proves that every required
// phase ran and none was skipped, or partial syncs are allowed.
func (g Guard) Check() error {
	if g.AllowPartial {
		return nil
	}
	phases := splitList(g.TestPhases)
	if len(phases) == 0 {
		return &GuardError{Msg: "no test phase metadata (" + config.EnvTestPhases + " is empty)"}
	}

	ran := make(map[string]bool, len(phases))
	all := false
	for _, p := range phases {
		if p == "all" {
			all = true
		}
		ran[p] = true
	}

	var missing []string
	if !all {
		for _, req := range g.Required {
			if !ran[strings.ToLower(req)] {
				missing = append(missing, req)
			}
		}
	}

	var skipped []string
	for _, pair := range splitList(g.PhaseStatuses) {
		name, status, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(status) == "skipped" {
			skipped = append(skipped, strings.TrimSpace(name))
		}
	}
	sort.Strings(skipped)

	if len(missing) > 0 || len(skipped) > 0 {
		return &GuardError{Missing: missing, Skipped: skipped}
	}
	return nil
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
