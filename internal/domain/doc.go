// Package domain contains the core entities of the outbox: local echoes of
// events the user authored and their delivery states. It is independent of
// any storage engine, transport or queueing mechanism.
package domain
