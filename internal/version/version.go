// Package version carries build metadata stamped via -ldflags.
package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Metadata returns the build fields as session metadata entries.
func Metadata() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_sha":    GitSHA,
		"build_time": BuildTime,
	}
}
