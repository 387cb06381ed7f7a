// Package service contains the application-level operations of the outbox.
// It sits between the delivery mechanisms (the control API and the CLI) and
// the send queue, turning requests about local echoes into queued tasks.
//
// Key components:
//
//  1. SendService posts, resends and cancels outbound events and drives the
//     queue through the session lifecycle.
//  2. Package auth issues and validates the control API bearer tokens.
//
// Services receive their dependencies through constructor injection and
// depend on the store interfaces, never on a storage implementation.
package service
