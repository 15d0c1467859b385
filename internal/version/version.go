// Package version carries the build stamp set through -ldflags.
package version

import "fmt"

// Set at link time, e.g.
// -ldflags "-X github.com/banshee-data/rangefinder/internal/version.Version=v0.3.0".
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// Info is the build stamp as served by /api/version.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// Current returns the stamp of the running binary.
func Current() Info {
	return Info{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

func (i Info) String() string {
	return fmt.Sprintf("rangefinder %s (%s, built %s)", i.Version, i.GitSHA, i.BuildTime)
}
