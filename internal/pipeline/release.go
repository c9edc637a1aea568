//go:build release

package pipeline

const debugChecks = false

// DebugChecks reports whether this is a checked build.
func DebugChecks() bool { return debugChecks }
