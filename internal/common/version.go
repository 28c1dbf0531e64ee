package common

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/ternarybob/agentstream/internal/common.Version=..."
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (build: %s, commit: %s, %s)", b.Version, b.Build, b.GitCommit, b.GoVersion)
}

var currentBuild = sync.OnceValue(func() BuildInfo {
	info := BuildInfo{Version: Version, Build: Build, GitCommit: GitCommit}

	// Without ldflags fall back to what the toolchain embedded
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.GitCommit == "unknown" && len(setting.Value) >= 12 {
				info.GitCommit = setting.Value[:12]
			}
		case "vcs.time":
			if info.Build == "unknown" {
				info.Build = setting.Value
			}
		}
	}
	return info
})

// CurrentBuild returns the build identity, resolved once per process.
func CurrentBuild() BuildInfo {
	return currentBuild()
}
