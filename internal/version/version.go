// Package version holds build version information.
package version

// Version is overridden at build time:
//
//	go build -ldflags "-X github.com/roach88/localdb/internal/version.Version=v1.2.3"
var Version = "dev"

// String returns the version string.
func String() string { return "localdb " + Version }
