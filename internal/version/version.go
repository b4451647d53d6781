// Package version reports build metadata of the writer.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const name = "crm-writer"

// Set with -ldflags "-X github.com/ryabkov82/crm-writer/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
}

// Current returns the build metadata. When the binary was built without
// ldflags, commit and time fall back to the VCS stamp embedded by the go tool.
func Current() BuildInfo {
	info := BuildInfo{
		Name:      name,
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.GitCommit == "unknown":
			info.GitCommit = s.Value
		case s.Key == "vcs.time" && info.BuildTime == "unknown":
			info.BuildTime = s.Value
		}
	}
	return info
}

// UserAgent is sent with every API request.
func UserAgent() string {
	return name + "/" + Version
}

// String is printed by -version.
func String() string {
	info := Current()
	return fmt.Sprintf("%s %s (commit %s, built %s, %s)", info.Name, info.Version, info.GitCommit, info.BuildTime, info.GoVersion)
}
