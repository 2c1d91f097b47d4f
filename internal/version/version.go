// Package version reports the camlink build. Version, GitCommit and
// BuildDate are set by the release build:
//
//	go build -ldflags "-X github.com/HerbHall/camlink/internal/version.Version=1.2.0"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the line printed by `camlink version`.
func Info() string {
	return fmt.Sprintf("camlink %s (commit %s, built %s, %s %s/%s)",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns Version alone; the server sends it as X-CamLink-Version.
func Short() string { return Version }

// Map is the build block of the health response.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
