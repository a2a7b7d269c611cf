// Package version holds the build metadata of the stratum binaries. The
// values are stamped by cmd/stratum at startup and reported by the
// "stratum version" command, the /health endpoint and the client's
// User-Agent header.
package version

import (
	"fmt"
	"runtime"
)

// Build metadata, overridable with -ldflags:
//
//	go build -ldflags "-X main.Version=v1.2.0 -X main.GitCommit=$(git rev-parse --short HEAD)" ./cmd/stratum
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Stamp records the metadata of the running binary. Empty values keep the
// current ones.
func Stamp(version, buildTime, commit string) {
	if version != "" {
		Version = version
	}
	if buildTime != "" {
		BuildTime = buildTime
	}
	if commit != "" {
		GitCommit = commit
	}
}

// Info is the build metadata of the running binary.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

func Get() Info {
	return Info{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("Stratum %s (commit %s, built %s, %s, %s)",
		i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.Platform)
}

// UserAgent identifies stratum clients towards the API server.
func UserAgent() string {
	return "stratum-client/" + Version
}
