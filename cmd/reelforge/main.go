package main

import (
	"github.com/reelforge/reelforge/internal/cmd"
	apperrors "github.com/reelforge/reelforge/internal/errors"
)

// Stamped by the release build:
//
//	go build -ldflags "-X main.version=v0.4.0 -X main.commit=$(git rev-parse --short HEAD) -X main.buildDate=$(date -u +%FT%TZ)"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	if err := cmd.Execute(); err != nil {
		cmd.ExitWithCodeStderr(apperrors.ExitCodeFor(err), "Command execution failed", err)
	}
}
