// Package version carries build metadata injected with -ldflags:
//
//	go build -ldflags "-X github.com/ramiqadoumi/go-task-lease/internal/version.Version=v1.2.0"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }

// String renders the multi-line banner printed by the version command.
func String(binary string) string {
	return fmt.Sprintf("%s %s\n  commit:     %s\n  built:      %s\n  go version: %s",
		binary, Version, GitCommit, BuildTime, GoVersion())
}
