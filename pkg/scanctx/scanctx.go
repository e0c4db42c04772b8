// Package scanctx implements the explicit scan context described in §4.5 of
// the scan core spec: the per-scan state threaded through block scanning and
// condition evaluation. Unlike the original's thread-local YR_SCAN_CONTEXT,
// this is an ordinary Go struct passed by reference — there is no hidden
// global to fix up, and nothing here is shared across concurrent scans.
package scanctx

import (
	"time"

	"github.com/scanforge/yaracore/pkg/matchlist"
	"github.com/scanforge/yaracore/pkg/types"
)

// CallbackMessage identifies why the scan orchestrator is invoking the
// caller's callback, matching the message kinds in §4.7/§6.
type CallbackMessage int

const (
	RuleMatching CallbackMessage = iota
	RuleNotMatching
	ScanFinished
	TooManyMatches
)

func (m CallbackMessage) String() string {
	switch m {
	case RuleMatching:
		return "RULE_MATCHING"
	case RuleNotMatching:
		return "RULE_NOT_MATCHING"
	case ScanFinished:
		return "SCAN_FINISHED"
	case TooManyMatches:
		return "TOO_MANY_MATCHES"
	default:
		return "UNKNOWN"
	}
}

// CallbackAction is the caller's instruction for how the orchestrator should
// proceed after a callback invocation.
type CallbackAction int

const (
	// Continue keeps scanning / keeps invoking the callback for later rules.
	Continue CallbackAction = iota
	// Abort stops the scan immediately without treating it as an error (§7).
	// It takes effect on RuleMatching/RuleNotMatching callbacks; returned
	// from a TooManyMatches callback it is ignored and scanning continues.
	Abort
	// Error stops the scan and surfaces ErrCallbackError to the caller.
	Error
)

// Callback is invoked once per reportable event during a scan. ruleIdx is
// valid for RuleMatching/RuleNotMatching/TooManyMatches; stringID is valid
// only for TooManyMatches.
type Callback func(msg CallbackMessage, ruleIdx int, stringID int) CallbackAction

// EntryPointUndefined is the sentinel "no entry point located" value.
const EntryPointUndefined int64 = -1

// Context is the per-scan state passed through block scanning and condition
// evaluation. The zero value is not usable; use New.
type Context struct {
	// ThreadSlot is the slot index this scan acquired on the ruleset (§4.6).
	ThreadSlot int

	// Matches is this scan's per-string match-list side table (§4.3),
	// externalized here rather than carried on the ruleset's rules.
	Matches *matchlist.SideTable

	// MatchingStrings is the ordered list of string IDs that matched at
	// least once during the scan, in first-match order — the Go analogue of
	// the original's matching-strings arena.
	MatchingStrings []int

	// RuleFlags holds the per-rule transient MATCH bit, indexed by
	// types.Rule.Index.
	RuleFlags []bool

	// UnsatisfiedGlobal holds the per-namespace transient flag, indexed by
	// types.Namespace.Index: true once a GLOBAL rule in that namespace has
	// evaluated false, suppressing every later non-global rule report in
	// the same namespace for this scan.
	UnsatisfiedGlobal []bool

	// Externals are the external variable values visible to condition
	// evaluation for this scan (copied from the ruleset's defaults, then
	// possibly overridden per-scan).
	Externals []types.ExternalVariable

	Callback Callback

	// FileSize is the total size of the scanned data, or -1 if unknown
	// (e.g. a streamed block source without a known total).
	FileSize int64

	// EntryPoint is the detected entry-point offset, or EntryPointUndefined.
	// It is probed only on the first block of a scan (§9 supplemented
	// feature: entry-point detection runs once, failures are swallowed).
	EntryPoint int64
	entryPointProbed bool

	// Deadline is when the scan must stop with ErrScanTimeout, the zero
	// value meaning "no deadline".
	Deadline time.Time

	// BytesScanned accumulates total input bytes seen, for the every-4096
	// timeout check in §4.4.
	BytesScanned int64

	torndown bool
}

// New creates a Context sized for a ruleset with numRules rules,
// numNamespaces namespaces, and numStrings strings.
func New(numRules, numNamespaces, numStrings int, externals []types.ExternalVariable, cb Callback) *Context {
	return &Context{
		Matches:           matchlist.New(numStrings, 0),
		RuleFlags:         make([]bool, numRules),
		UnsatisfiedGlobal: make([]bool, numNamespaces),
		Externals:         externals,
		Callback:          cb,
		FileSize:          -1,
		EntryPoint:        EntryPointUndefined,
	}
}

// ProbeEntryPoint runs fn, a caller-supplied entry-point detector, exactly
// once per scan — on every call after the first it is a no-op — and
// swallows any error fn returns, leaving EntryPoint at EntryPointUndefined,
// matching the original's YR_TRYCATCH({ ... }, {}) around entry-point
// detection.
func (c *Context) ProbeEntryPoint(fn func() (int64, error)) {
	if c.entryPointProbed {
		return
	}
	c.entryPointProbed = true
	if fn == nil {
		return
	}
	if ep, err := fn(); err == nil {
		c.EntryPoint = ep
	}
}

// TimeoutElapsed reports whether Deadline has passed. Called every 4096
// bytes per §4.4.
func (c *Context) TimeoutElapsed() bool {
	return !c.Deadline.IsZero() && time.Now().After(c.Deadline)
}

// RecordMatch records a confirmed match for stringID and, on the string's
// first match this scan, appends it to MatchingStrings. It does not touch
// RuleFlags; those are set by condition evaluation. firstMatch reports
// whether this was the zero-to-one transition.
func (c *Context) RecordMatch(stringID int, m matchlist.Match) (firstMatch bool, err error) {
	firstMatch, err = c.Matches.Add(stringID, m)
	if err != nil {
		return false, err
	}
	if firstMatch {
		c.MatchingStrings = append(c.MatchingStrings, stringID)
	}
	return firstMatch, nil
}

// Teardown releases this context's per-scan state. It is idempotent and
// safe to call on every exit path (timeout, callback-abort, error, or
// success) per §4.5's deterministic-teardown invariant.
func (c *Context) Teardown() {
	if c.torndown {
		return
	}
	c.torndown = true
	c.Matches.Clear()
	for i := range c.RuleFlags {
		c.RuleFlags[i] = false
	}
	for i := range c.UnsatisfiedGlobal {
		c.UnsatisfiedGlobal[i] = false
	}
	c.MatchingStrings = c.MatchingStrings[:0]
}
