package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Set with -ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the build metadata printed by the version command.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate}
}

// EnsureVPrefix adds a "v" prefix if missing; golang.org/x/mod/semver requires it.
func EnsureVPrefix(s string) string {
	if strings.HasPrefix(s, "v") {
		return s
	}
	return "v" + s
}

// IsRelease reports whether v is a valid semantic version.
func IsRelease(v string) bool {
	return semver.IsValid(EnsureVPrefix(v))
}

// AtLeast reports whether v is a valid version not older than minimum. Both
// may omit the "v" prefix and the patch component.
func AtLeast(v, minimum string) bool {
	v, minimum = EnsureVPrefix(v), EnsureVPrefix(minimum)
	if !semver.IsValid(v) || !semver.IsValid(minimum) {
		return false
	}
	return semver.Compare(v, minimum) >= 0
}
