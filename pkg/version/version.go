package version

import (
	"fmt"
	"runtime"
	"time"
)

// Overridden at build time, e.g.
// -ldflags "-X github.com/mrblonde/orders/pkg/version.Version=v1.4.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"

	GoVersion = runtime.Version()
	Platform  = runtime.GOOS + "/" + runtime.GOARCH
)

// BuildInfo describes the running binary
type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"gitCommit" yaml:"gitCommit"`
	BuildDate string    `json:"buildDate" yaml:"buildDate"`
	GoVersion string    `json:"goVersion" yaml:"goVersion"`
	Platform  string    `json:"platform" yaml:"platform"`
	BuildTime time.Time `json:"buildTime,omitempty" yaml:"buildTime,omitempty"`
}

func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  Platform,
	}
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		info.BuildTime = t
	}
	return info
}

// String is the one-line form printed by "orders version".
func (b BuildInfo) String() string {
	return fmt.Sprintf("orders %s (commit: %s, built: %s, %s %s)", b.Version, b.GitCommit, b.BuildDate, b.GoVersion, b.Platform)
}

// LogFields returns the build metadata as key-value pairs for a sugared logger.
func (b BuildInfo) LogFields() []interface{} {
	return []interface{}{"version", b.Version, "commit", b.GitCommit, "built", b.BuildDate}
}
