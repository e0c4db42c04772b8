// Package yaraerr declares the sentinel error values returned by the scan
// core's fallible operations. Callers compare against these with errors.Is;
// operations that want to add context wrap them with fmt.Errorf("...: %w").
package yaraerr

import "errors"

var (
	// ErrInsufficientMemory signals that a string's per-scan match list
	// reached its cap (pkg/matchlist).
	ErrInsufficientMemory = errors.New("insufficient memory")

	// ErrInvalidArgument is returned by define-variable calls for unknown
	// identifiers and by other operations given malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCouldNotOpenFile is returned when a scan target file cannot be opened.
	ErrCouldNotOpenFile = errors.New("could not open file")

	// ErrCouldNotMapFile is returned when a scan target file cannot be
	// stat'ed or read into memory.
	ErrCouldNotMapFile = errors.New("could not map file")

	// ErrScanTimeout is returned when a scan exceeds its configured timeout.
	ErrScanTimeout = errors.New("scan timed out")

	// ErrTooManyScanThreads is returned when every thread slot on a ruleset
	// is already in use.
	ErrTooManyScanThreads = errors.New("too many scan threads")

	// ErrCallbackError is returned when the caller's callback returns the
	// ERROR action.
	ErrCallbackError = errors.New("callback returned error")

	// ErrCorruptFile is returned by Load when the persisted ruleset stream
	// fails its format or version check.
	ErrCorruptFile = errors.New("corrupt ruleset file")

	// ErrUnsupportedPlatform is returned by ScanProcess on platforms without
	// a process-memory enumeration collaborator wired in.
	ErrUnsupportedPlatform = errors.New("process scanning unsupported on this platform")

	// ErrNoRules is returned when a ruleset is built with zero rules.
	ErrNoRules = errors.New("ruleset has no rules")
)
