package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build-time variables set by ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"   yaml:"version"`
	GitCommit string `json:"commit"    yaml:"commit"`
	BuildDate string `json:"date"      yaml:"date"`
	GoVersion string `json:"go"        yaml:"go"`
}

// Info returns version information. A dev build reports the module
// version recorded by the toolchain when there is one.
func Info() Build {
	b := Build{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate, GoVersion: runtime.Version()}
	if b.Version == "dev" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			b.Version = bi.Main.Version
		}
	}
	return b
}

func (b Build) String() string {
	return fmt.Sprintf("textpipe %s (commit: %s, built: %s, %s)", b.Version, b.GitCommit, b.BuildDate, b.GoVersion)
}
