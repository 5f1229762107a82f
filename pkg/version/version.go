// Package version carries build identification injected at link time.
package version

// Set via -ldflags at build time; defaults identify a source build.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
