// Package version carries the pollsync build identity, stamped via -ldflags
// at release time.
package version

import "runtime"

var (
	// Version is the pollsync release tag, "dev" for local builds.
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }
