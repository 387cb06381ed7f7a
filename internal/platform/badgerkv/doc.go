// Package badgerkv stores the send queue ledger snapshot in an embedded
// BadgerDB database.
//
// Keys are namespaced per user session:
//
//	outbox/<user id>/<key>
//
// so several accounts can share one database directory without seeing each
// other's queues. Values are JSON arrays of strings.
package badgerkv
