// Package sendqueue delivers outbound Matrix events.
//
// The Processor accepts tasks, records them in a durable Ledger, and runs
// them one at a time per room behind a NetworkGate that holds all work
// while the homeserver is unreachable. Connectivity failures are retried
// without limit; rate limiting is retried up to a small budget; any other
// failure is permanent. Tasks still owned by the queue when the process
// stops are restored from the Ledger on the next session start.
package sendqueue
