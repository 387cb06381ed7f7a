// Package task defines the units of outbound work handled by the send
// queue: sending a local echo to its room and redacting an event. Tasks
// carry their own retry counter and cancellation flag and talk to the
// local-echo store and the homeserver through the narrow interfaces
// declared here.
package task
