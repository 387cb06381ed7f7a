// Package sqlite keeps local echoes and room encryption flags in an embedded
// SQLite database. Local echoes are the client-side copies of events the user
// authored; the send queue reads and updates them while delivering.
package sqlite
