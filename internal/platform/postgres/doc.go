// Package postgres stores the pending-task ledger snapshot in PostgreSQL.
// It is the shared alternative to the embedded badger backend: several
// outbox processes, one per Matrix session, can keep their snapshots in the
// same database, keyed by session.
//
// The schema lives in embedded goose migrations; call Migrate before
// constructing a SnapshotStore.
package postgres
