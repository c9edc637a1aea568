//go:build !release

package pipeline

// debugChecks enables graph revalidation after every pass. Release builds
// (built with -tags release) trust the passes and skip it.
const debugChecks = true

// DebugChecks reports whether this is a checked build. Callers outside the
// pipeline use it for their own debug-only assertions.
func DebugChecks() bool { return debugChecks }
