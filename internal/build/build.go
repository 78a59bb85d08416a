// Package build holds identification values stamped at link time.
package build

import "strings"

var (
	// Version is the application version, set via ldflags at release time.
	Version = "dev"

	// CommitSHA is the git commit the binary was built from.
	CommitSHA = ""

	// BuildDate is the UTC timestamp of the build.
	BuildDate = ""

	// AppName is the display name of the application.
	AppName = "Chartd"

	// Slug is the lowercase identifier used for paths, environment
	// variable prefixes and the HTTP user agent.
	Slug = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
