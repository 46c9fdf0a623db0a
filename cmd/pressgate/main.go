package main

import (
	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/pressgate/pressgate/internal/cmd"
	"github.com/pressgate/pressgate/internal/server/handlers"
)

// Overridden at build time, e.g.
// go build -ldflags="-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-08-30"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	handlers.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		// Commands log their own failures; this is the last resort.
		cmd.ExitWithCodeStderr(foundry.ExitFailure, "Command execution failed", err)
	}
}
