package report

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"reqsync/internal/drift"
	"reqsync/internal/store"
	"reqsync/internal/trace"
)

// Format selects how a document is printed.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatTrace    Format = "trace"
)

// ParseFormat accepts json, markdown (or md) and trace.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "trace":
		return FormatTrace, nil
	}
	return "", fmt.Errorf("invalid format %q (expected json|markdown|trace)", raw)
}

// Render writes v in format f. The trace format prints cl instead of v.
func Render(w io.Writer, f Format, v any, cl trace.ChangeLog) error {
	switch f {
	case FormatMarkdown:
		return WriteMarkdown(w, v)
	case FormatTrace:
		return WriteTrace(w, cl)
	}
	return WriteJSON(w, v)
}

// WriteJSON prints v as indented JSON with a trailing newline.
func WriteJSON(w io.Writer, v any) error {
	b, err := store.MarshalStable(v)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = w.Write(b)
	return err
}

// WriteTrace prints the canonical change log followed by a newline.
func WriteTrace(w io.Writer, cl trace.ChangeLog) error {
	b, err := cl.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// WriteMarkdown prints a human-readable rendition of a report, phase or
// drift document.
func WriteMarkdown(w io.Writer, v any) error {
	var buf bytes.Buffer
	switch doc := v.(type) {
	case *Document:
		documentMarkdown(&buf, doc)
	case *PhaseDocument:
		phaseMarkdown(&buf, doc)
	case *drift.Report:
		driftMarkdown(&buf, doc)
	default:
		return fmt.Errorf("no markdown rendering for %T", v)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func documentMarkdown(b *bytes.Buffer, doc *Document) {
	fmt.Fprintf(b, "# Requirements report: %s\n\n", doc.Scenario)
	fmt.Fprintf(b, "Generated %s, graph `%s`.\n\n", doc.GeneratedAt.Format(time.RFC3339), shortHash(doc.GraphHash))

	fmt.Fprintf(b, "## Summary\n\n")
	fmt.Fprintf(b, "%d requirements, %d validations.\n\n", doc.Summary.Total, doc.Summary.Validations)
	countTable(b, "Status", []string{"declared", "effective"}, doc.Summary.Declared, doc.Summary.Effective)
	countTable(b, "Live", []string{"own", "rollup"}, doc.Summary.Live, doc.Summary.LiveRollup)

	if doc.Sync != nil && doc.Sync.Result != nil {
		fmt.Fprintf(b, "## Sync\n\n")
		fmt.Fprintf(b, "- files written: %d\n", len(doc.Sync.FilesWritten))
		fmt.Fprintf(b, "- validations added: %d\n", len(doc.Sync.Added))
		fmt.Fprintf(b, "- orphaned: %d (removed %d)\n", len(doc.Sync.Orphaned), len(doc.Sync.Removed))
		fmt.Fprintf(b, "- status changes: %d\n", len(doc.Sync.StatusChanges))
		fmt.Fprintf(b, "- snapshot: `%s`\n\n", doc.Sync.SnapshotPath)
	}

	if len(doc.OperationalTargets) > 0 {
		fmt.Fprintf(b, "## Operational targets\n\n| Target | Criticality | Status | Complete |\n|---|---|---|---|\n")
		for _, t := range doc.OperationalTargets {
			fmt.Fprintf(b, "| %s | %s | %s | %d/%d |\n", t.ID, dash(t.Criticality), t.Status, t.Counts["complete"], t.Total)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(b, "## Requirements\n\n| ID | Status | Live | Rollup | File |\n|---|---|---|---|---|\n")
	for _, r := range doc.Requirements {
		fmt.Fprintf(b, "| %s | %s | %s | %s | %s |\n", r.ID, r.Status, r.LiveStatus, r.LiveRollup, r.File)
	}
	b.WriteString("\n")

	if len(doc.DanglingChildren) > 0 {
		fmt.Fprintf(b, "## Dangling children\n\n")
		for _, d := range doc.DanglingChildren {
			fmt.Fprintf(b, "- %s -> %s\n", d.Parent, d.Child)
		}
		b.WriteString("\n")
	}
	if len(doc.Cycles) > 0 {
		fmt.Fprintf(b, "## Cycles\n\n")
		for _, c := range doc.Cycles {
			fmt.Fprintf(b, "- %s\n", strings.Join(c, " -> "))
		}
		b.WriteString("\n")
	}
}

func phaseMarkdown(b *bytes.Buffer, doc *PhaseDocument) {
	fmt.Fprintf(b, "# Phase %s: %s\n\n", doc.Phase, doc.Scenario)
	if !doc.Found {
		b.WriteString("No results recorded for this phase.\n\n")
	}
	if s := doc.Summary; s != nil {
		fmt.Fprintf(b, "- status: %s\n- requirements: %d\n- file: `%s`\n", dash(string(s.Status)), s.RequirementCount, s.File)
		if !s.UpdatedAt.IsZero() {
			fmt.Fprintf(b, "- updated: %s\n", s.UpdatedAt.Format(time.RFC3339))
		}
		b.WriteString("\n")
	}
	if len(doc.Requirements) > 0 {
		fmt.Fprintf(b, "## Requirements\n\n| ID | Status | Live | Validations |\n|---|---|---|---|\n")
		for _, r := range doc.Requirements {
			refs := make([]string, 0, len(r.Validations))
			for _, v := range r.Validations {
				refs = append(refs, fmt.Sprintf("%s (%s)", dash(v.Ref), v.LiveStatus))
			}
			fmt.Fprintf(b, "| %s | %s | %s | %s |\n", r.ID, r.Status, r.LiveStatus, strings.Join(refs, ", "))
		}
		b.WriteString("\n")
	}
	if len(doc.Records) > 0 {
		fmt.Fprintf(b, "## Evidence\n\n| ID | Status | Origin | Evidence |\n|---|---|---|---|\n")
		for _, r := range doc.Records {
			fmt.Fprintf(b, "| %s | %s | %s | %s |\n", r.ID, r.Status, r.Origin, cell(r.Evidence))
		}
		b.WriteString("\n")
	}
}

func driftMarkdown(b *bytes.Buffer, r *drift.Report) {
	fmt.Fprintf(b, "# Drift check: %s\n\n", r.Scenario)
	fmt.Fprintf(b, "Status: **%s** (%d issues)\n\n", r.Status, r.IssueCount)
	if r.Remediation != "" {
		fmt.Fprintf(b, "%s\n\n", r.Remediation)
		return
	}
	fmt.Fprintf(b, "Snapshot `%s` synced at %s.\n\n", r.SnapshotPath, r.SyncedAt.Format(time.RFC3339))

	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(b, "## %s\n\n", title)
		for _, it := range items {
			fmt.Fprintf(b, "- %s\n", it)
		}
		b.WriteString("\n")
	}

	var mismatched []string
	for _, m := range r.Files.Mismatched {
		mismatched = append(mismatched, fmt.Sprintf("%s (%s -> %s)", m.File, shortHash(m.SnapshotHash), shortHash(m.CurrentHash)))
	}
	section("Changed files", mismatched)
	section("New files", r.Files.NewFiles)
	section("Missing files", r.Files.MissingFromDisk)
	if r.Artifacts.Stale {
		section("Stale artifacts", []string{fmt.Sprintf("%s modified %s", r.Artifacts.NewestArtifact, r.Artifacts.NewestModTime.Format(time.RFC3339))})
	}

	var targets []string
	for _, m := range r.Targets.StatusMismatches {
		targets = append(targets, fmt.Sprintf("%s: snapshot %s, PRD %s", m.Target, m.SnapshotStatus, m.PRDStatus))
	}
	section("Target status mismatches", targets)
	section("Targets missing from snapshot", r.Targets.MissingFromSnapshot)
	section("Targets missing from PRD", r.Targets.MissingFromPRD)

	var expired, metadata []string
	for _, e := range r.Manual.Expired {
		expired = append(expired, fmt.Sprintf("%s expired %s", e.RequirementID, e.ExpiresAt.Format(time.RFC3339)))
	}
	for _, m := range r.Manual.MissingMetadata {
		metadata = append(metadata, fmt.Sprintf("%s lacks %s", m.RequirementID, strings.Join(m.Fields, ", ")))
	}
	section("Expired manual validations", expired)
	section("Manual validations missing metadata", metadata)
	section("Manual validations missing from ledger", r.Manual.MissingFromManifest)
	section("Manual validations newer than snapshot", r.Manual.Stale)
}

func countTable(b *bytes.Buffer, title string, cols []string, counts ...map[string]int) {
	keys := map[string]bool{}
	for _, c := range counts {
		for k := range c {
			keys[k] = true
		}
	}
	if len(keys) == 0 {
		return
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	fmt.Fprintf(b, "| %s | %s |\n|---|%s\n", title, strings.Join(cols, " | "), strings.Repeat("---|", len(cols)))
	for _, k := range sorted {
		row := make([]string, len(counts))
		for i, c := range counts {
			row[i] = fmt.Sprint(c[k])
		}
		fmt.Fprintf(b, "| %s | %s |\n", k, strings.Join(row, " | "))
	}
	b.WriteString("\n")
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}
