// Package api is the control API of the outbox. Local clients use it to
// submit events and redactions, inspect local echoes and the durable queue,
// and cancel or resend deliveries. Every /v1 route requires a bearer token
// issued for the running Matrix session.
package api
