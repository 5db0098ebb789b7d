package common

import (
	"fmt"
	"runtime"
)

// Build metadata, set with -ldflags "-X github.com/ternarybob/menulens/internal/common.Version=..."
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// GetVersion returns the release version
func GetVersion() string {
	return Version
}

// GetFullVersion adds the build date and the short commit
func GetFullVersion() string {
	return fmt.Sprintf("%s (built %s, commit %s)", Version, BuildDate, shortCommit(GitCommit))
}

// UserAgent identifies the client on backend requests and socket handshakes
func UserAgent() string {
	return fmt.Sprintf("menulens/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

func shortCommit(commit string) string {
	if len(commit) > 7 && commit != "unknown" {
		return commit[:7]
	}
	return commit
}
