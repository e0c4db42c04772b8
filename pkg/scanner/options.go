package scanner

import "time"

// Options configures a scan's behavior, following the shape of
// pkg/matcher.Options.
type Options struct {
	// Tolerant keeps scanning after a non-fatal per-block error instead of
	// aborting the whole scan.
	Tolerant bool
	// Timeout bounds the whole scan (0 = no timeout), checked every 4096
	// input bytes per §4.4.
	Timeout time.Duration
}

// DefaultOptions returns the default scan options.
func DefaultOptions() Options {
	return Options{Tolerant: false, Timeout: 0}
}
