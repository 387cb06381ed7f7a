// Package matrix is the homeserver side of the send queue: a small
// client-server API client that sends room events and redactions with
// idempotent transaction ids, and maps homeserver failures onto the retry
// classes of package task.
package matrix
