// Package testdb connects integration tests to a disposable PostgreSQL
// database.
//
// Tests call Open, which skips the test unless OUTBOX_TEST_DATABASE_URL is
// set, applies the ledger schema, and closes the pool on cleanup. WithTx
// runs a test body inside a transaction that is always rolled back, so
// tests can share the database without cleaning up after themselves:
//
//	func TestSnapshotStore(t *testing.T) {
//	    db := testdb.Open(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        s := postgres.NewSnapshotStore(tx, "@alice:example.org")
//	        // ...
//	    })
//	}
package testdb
