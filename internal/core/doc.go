// Package core provides the business logic for ingesting published
// medicinal-product datasets.
//
// It holds the domain logic independent of any transport: the HTTP server,
// the ingest CLI and the scheduler all drive the same [Service].
//
// # Architecture
//
// The package is organized around a few concepts:
//
//   - Dataset definitions: registered at init time via [Register]. Each
//     [DatasetDefinition] declares its columns and either a reference mapper
//     (catalog snapshots) or a fact mapper plus target table (transactional
//     feeds).
//   - Import: [Import] decodes the declared charset, resolves header aliases
//     into [ColumnSpec] keys and maps every line to a [RowOutcome]. Bad rows
//     are collected in an [ImportReport], never fatal.
//   - Ledger: the append-only record of processed (type, period) pairs.
//     The [Evaluator] reads it to decide eligibility; only a completed
//     import writes to it.
//   - Reconciliation: the [Reconciler] diffs a new catalog snapshot against
//     stored versions, producing inserts, new versions, retirements and
//     revivals. The resulting [Catalog] resolves natural codes for fact
//     mappers.
//
// # Processing a period
//
//  1. [Service.Process] checks eligibility against the current ledger
//  2. The source fetches the file named by the [Descriptor]
//  3. Rows are imported and, for facts, resolved against the catalog
//  4. Facts, reference versions, the run record and the ledger entry are
//     written in one [PeriodTx]; a concurrent claim of the same period
//     fails with [ErrPeriodClaimed]
//
// Background submissions go through [Service.Submit] and are bounded by the
// [ImportLimiter]. [Service.ProcessAll] orders a batch into dependency
// waves so a single cycle can catch up a reference chain and the feeds that
// depend on it.
//
// # Error Handling
//
// Technical errors are mapped to operator-facing messages using [MapError].
// Each category has a code prefix:
//
//   - ING: header and decoding problems
//   - DS: unknown datasets and bad periods
//   - ELG: eligibility and claim conflicts
//   - DB: database errors
//   - SRC: source fetch errors
//   - IMP: import capacity, cancellation and jobs
package core
