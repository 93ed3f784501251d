// Package recording persists recording jobs in SQLite and enforces the
// job state machine.
//
// The Store manages the database connection, schema initialization, and
// conditional status transitions. A partial unique index on active
// statuses backstops the duplicate-guard invariant at the database
// level: no two jobs for the same target can be starting, recording, or
// rotating at once, even across crashed daemon instances.
//
// Terminal jobs (completed, failed, orphaned) are immutable; Finish and
// Transition refuse to touch them.
package recording
