// Package matchlist implements the per-scan match-list side tables described
// in §4.3 of the scan core spec: for every string in a ruleset, the set of
// offsets where it has matched so far during the current scan.
//
// The original ties these lists to a ruleset's thread slot; this port
// externalizes them into a SideTable owned exclusively by one scan's
// context (see pkg/scanctx), which is simpler and safe under Go's
// concurrency model without sacrificing the "one list per string per
// concurrent scan" invariant the original provides.
package matchlist

import "github.com/scanforge/yaracore/pkg/yaraerr"

// MaxMatchData bounds how many bytes of the matched region a Match snapshots
// into Data, per spec.md's "matched-data snapshot (bounded)" data model.
// Longer matches (e.g. a wide regex tail) still report their true Length;
// only the retained snapshot is capped, keeping the matches arena's growth
// independent of pathological match sizes.
const MaxMatchData = 512

// Match is one confirmed hit for a string: the offset in the scanned data
// where the match begins, its length, and a bounded copy of the matched
// bytes themselves (capped at MaxMatchData; Data may be shorter than Length
// for a truncated snapshot).
type Match struct {
	Offset int64
	Length int
	Data   []byte
}

// list is a FIFO of matches for a single string, plus a flag set once the
// string's per-scan match cap has been reached.
type list struct {
	matches []Match
	private bool // true once TooManyMatches has fired; no further matches are recorded
}

// SideTable holds one match list per string ID for the duration of a single
// scan. The zero value is not usable; use New.
type SideTable struct {
	lists   []list
	maxPerString int
}

// DefaultMaxMatchesPerString bounds memory use for pathologically repetitive
// input; once reached, TooManyMatches fires for that string and further
// matches are dropped for the remainder of the scan (§9 Open Question 1).
const DefaultMaxMatchesPerString = 1_000_000

// New creates a SideTable sized for numStrings string IDs (0..numStrings-1).
func New(numStrings int, maxPerString int) *SideTable {
	if maxPerString <= 0 {
		maxPerString = DefaultMaxMatchesPerString
	}
	return &SideTable{
		lists:        make([]list, numStrings),
		maxPerString: maxPerString,
	}
}

// Add appends a confirmed match for stringID. It returns (true, nil) the
// first time this string transitions from zero to one match — the signal
// callers use to log the string into a scan's matching-strings arena exactly
// once. It returns (false, yaraerr.ErrInsufficientMemory) once the per-string cap is
// reached; the caller should emit a TooManyMatches callback message and stop
// calling Add for this string for the rest of the scan.
func (t *SideTable) Add(stringID int, m Match) (firstMatch bool, err error) {
	l := &t.lists[stringID]
	if l.private {
		return false, errTooManyMatches
	}
	if len(l.matches) >= t.maxPerString {
		l.private = true
		return false, errTooManyMatches
	}
	firstMatch = len(l.matches) == 0
	l.matches = append(l.matches, m)
	return firstMatch, nil
}

// errTooManyMatches signals that a string's per-scan match cap was reached.
// It is yaraerr.ErrInsufficientMemory; because it is a per-string, not
// per-scan, condition, callers branch on it directly rather than surfacing
// it as a scan-ending error.
var errTooManyMatches = yaraerr.ErrInsufficientMemory

// Matches returns the matches recorded so far for stringID, in the order
// they were added.
func (t *SideTable) Matches(stringID int) []Match {
	return t.lists[stringID].matches
}

// Count returns how many matches stringID has recorded so far.
func (t *SideTable) Count(stringID int) int {
	return len(t.lists[stringID].matches)
}

// HasMatch reports whether stringID has matched at least once.
func (t *SideTable) HasMatch(stringID int) bool {
	return len(t.lists[stringID].matches) > 0
}

// Clear empties every list, leaving the SideTable ready for reuse by another
// scan. This mirrors _yr_rules_clean_matches's "clear pointers, not the
// underlying strings" behavior: the backing arrays are reused, not
// reallocated.
func (t *SideTable) Clear() {
	for i := range t.lists {
		t.lists[i].matches = t.lists[i].matches[:0]
		t.lists[i].private = false
	}
}
