// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

// Build metadata, set via -ldflags "-X .../pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// InitBinaryVersion fills unset build metadata from the module build info
// embedded by `go install`.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "none" {
				Commit = s.Value
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = s.Value
			}
		}
	}
}

// String formats the build metadata for display.
func String() string {
	return fmt.Sprintf("flightrec %s (commit: %s, built: %s)", Version, Commit, Date)
}
