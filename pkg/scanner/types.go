// Package scanner implements the scan orchestrator described in §4.8 of the
// scan core spec: entry points for scanning memory, files, file
// descriptors, and (best-effort) live processes, each ultimately driving
// ScanBlocks through the full per-scan protocol of §4.7.
package scanner

// DebugLogger provides optional tracing of thread-slot acquisition, block
// boundaries, tolerated block errors, and callback aborts. The zero value
// isn't meaningful; use NoopLogger
// or supply your own.
type DebugLogger interface {
	Log(format string, args ...interface{})
}

// NoopLogger discards every log line; it's the default when no logger is
// supplied.
type NoopLogger struct{}

func (NoopLogger) Log(format string, args ...interface{}) {}
