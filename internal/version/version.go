package version

import (
	"fmt"
	"runtime"
)

// Service is the name reported by /health and the version flag.
const Service = "margin_ledger"

// Build information. Populated at build-time via ldflags, e.g.
// -X frizo/margin_ledger/internal/version.Version=v1.2.0
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo is the build-time information.
type BuildInfo struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

func Get() BuildInfo {
	return BuildInfo{
		Service:   Service,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: GoVersion,
	}
}

// String is the multi-line form printed by -version.
func String() string {
	info := Get()
	return fmt.Sprintf("%s %s\nBuild Time: %s\nGit Commit: %s\nGo Version: %s",
		info.Service, info.Version, info.BuildTime, info.GitCommit, info.GoVersion)
}

// Short returns the version, with the abbreviated commit when known.
func Short() string {
	if GitCommit != "unknown" && len(GitCommit) > 7 {
		return fmt.Sprintf("%s (%s)", Version, GitCommit[:7])
	}
	return Version
}
