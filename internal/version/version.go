package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags
var (
	// Version is the semantic version, injected at build time
	Version = "dev"

	// GitCommit is the git commit hash, injected at build time
	GitCommit = "unknown"

	// BuildDate is the build date, injected at build time
	BuildDate = "unknown"

	// GoVersion is the Go version used to build
	GoVersion = runtime.Version()
)

// Full returns full version information
func Full() string {
	info := Version
	if commit := GitCommit; commit != "" && commit != "unknown" {
		if len(commit) > 7 {
			commit = commit[:7]
		}
		info += fmt.Sprintf(" (%s)", commit)
	}
	return info
}
