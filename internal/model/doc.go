// Package model defines the domain types shared by every stage of the
// requirement reconciliation pipeline.
//
// It is intentionally split into:
//   - Declared data (Requirement, Validation): what the requirement files say
//   - Observed data (EvidenceRecord): immutable facts read from test runs and
//     manual attestations
//   - Derived data (LiveStatus, Source, LiveDetails): values computed by the
//     enrichment and rollup stages and never read back from disk
//
// All status vocabularies are closed enumerations. Parsing functions reject or
// explicitly map every raw string so that later stages can switch exhaustively.
package model
