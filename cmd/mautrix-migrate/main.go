// Copyright 2024-2026 Aiku AI

// Command mautrix-migrate copies all rooms visible to an admin account from
// one Matrix homeserver to another: rooms are re-created on the destination
// with matching name, topic and encryption state, and their full timelines
// are replayed oldest-first with provenance tags for idempotent re-runs.
package main

import (
	"os"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
