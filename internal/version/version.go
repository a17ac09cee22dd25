// Package version carries build information stamped in with -ldflags.
package version

var (
	Version = "v0.1.0"
	Commit  = "unknown"
	BuiltAt = "unknown"
)

// Info returns the semantic version.
func Info() string {
	return Version
}

// FullInfo returns the version line printed by --version.
func FullInfo() string {
	return Version + " (commit " + Commit + ", built " + BuiltAt + ")"
}
