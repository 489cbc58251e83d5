// Package version exposes build-time version information.
//
// The variables below are intended to be overridden at build time, e.g:
//
//	go build -ldflags "-X github.com/dpyc-network/tollbooth-authority/internal/version.Version=v0.3.0"
package version

var (
	// Version is the semantic version of the build (set via ldflags).
	Version = "dev"

	// GitCommit is the short commit hash the binary was built from.
	GitCommit = "unknown"

	// BuildDate is the UTC timestamp of the build.
	BuildDate = "unknown"
)

// Info bundles the build information for display and API responses.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

// Get returns the build information for the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
	}
}
