// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional YAML file. Environment
// variables use the OUTBOX_ prefix, with nested keys joined by underscores
// (queue.max_retry becomes OUTBOX_QUEUE_MAX_RETRY).
package config
