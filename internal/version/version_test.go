package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	b := Info()
	assert.NotEmpty(t, b.Version)
	assert.Equal(t, GitCommit, b.GitCommit)
	assert.Equal(t, BuildDate, b.BuildDate)
	assert.Equal(t, runtime.Version(), b.GoVersion)
}

func TestInfo_ReleaseVersionWins(t *testing.T) {
	old := Version
	Version = "v1.2.3"
	t.Cleanup(func() { Version = old })

	assert.Equal(t, "v1.2.3", Info().Version)
}

func TestString(t *testing.T) {
	b := Build{Version: "v0.1.0", GitCommit: "abc123", BuildDate: "2024-05-01", GoVersion: "go1.25.0"}
	assert.Equal(t, "textpipe v0.1.0 (commit: abc123, built: 2024-05-01, go1.25.0)", b.String())
}
