// Package version provides the agent version strings.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	baseVersion = "1.4.0"

	// buildNumber is filled in at release time by passing -ldflags
	// "-X github.com/lablup/backend.ai-kernel-runner/version.buildNumber=${BUILD_NUMBER}"
	buildNumber = "x"
)

func Version() string {
	return baseVersion
}

// BuildNumber returns the build number of the pipeline that built the agent.
func BuildNumber() string {
	return buildNumber
}

// commitInfo returns a string consisting of the commit hash and whether the
// build was made in a `dirty` working directory or not.
func commitInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "x"
	}

	dirty := ".dirty"
	var commit string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
		case "vcs.modified":
			if setting.Value == "false" {
				dirty = ""
			}
		}
	}

	return commit + dirty
}

// FullVersion is a SemVer 2.0 compliant version string that includes
// [build metadata](https://semver.org/#spec-item-10) consisting of the build
// number (if any), the commit hash, and whether the build was made in a
// `dirty` working directory or not.
func FullVersion() string {
	return fmt.Sprintf("%s+%s.%s", Version(), BuildNumber(), commitInfo())
}
