// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the outbox core, so the send queue stays independent of specific
// database technologies or persistence details.
package store
