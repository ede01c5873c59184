// Package version provides build version information for greenhouse-mirror.
// Version values are set at build time via ldflags.
package version

import "os"

// EnvUserAgent overrides the User-Agent sent to the Kubernetes API server
const EnvUserAgent = "GREENHOUSE_MIRROR_USER_AGENT"

// Build-time variables set via ldflags
// Example: go build -ldflags "-X github.com/cloudoperators/greenhouse-mirror/pkg/version.Version=1.0.0"
var (
	Version   = "0.1.0"
	Commit    = "none"
	BuildDate = "unknown"
	Tag       = "none"
)

// UserAgent returns GREENHOUSE_MIRROR_USER_AGENT if set,
// otherwise "greenhouse-mirror/{version}".
func UserAgent() string {
	if ua := os.Getenv(EnvUserAgent); ua != "" {
		return ua
	}
	return "greenhouse-mirror/" + Version
}

// Info returns all version information as a struct
func Info() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		Tag:       Tag,
	}
}

// VersionInfo contains all build version information
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	Tag       string `json:"tag"`
}
