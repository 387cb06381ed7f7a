// Package main is the entry point for the outbox daemon, which queues the
// outbound events of one Matrix session and delivers them in order once the
// homeserver is reachable.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
