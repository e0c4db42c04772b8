// Package submatcher implements the default verify_match collaborator named
// in §6 of the scan core spec: given a candidate Aho-Corasick hit (a
// string's literal keyword found at some offset) it applies the string's
// modifiers and produces zero or one confirmed match.
//
// This mirrors the role the teacher's regexp-based matcher plays opposite
// its Aho-Corasick prefilter (pkg/matcher/regexp.go, pkg/prefilter): here the
// automaton is the prefilter and this package is the verifier, just as
// there the Hyperscan/regexp2 pass verifies the prefilter's candidates.
package submatcher

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/scanforge/yaracore/pkg/matchlist"
	"github.com/scanforge/yaracore/pkg/types"
)

// DefaultRegexTimeout bounds a single regex-tail evaluation, preventing
// catastrophic backtracking from stalling a scan (mirrors the teacher's
// RegexpMatcher.MatchTimeout).
const DefaultRegexTimeout = 2 * time.Second

// Verifier is the default verify_match implementation: a closure-free,
// reusable object that applies one StringDef's modifiers to a candidate.
type Verifier struct {
	regexCache map[int]*regexp2.Regexp // StringDef.ID -> compiled regex tail, for StringRegexp strings
	timeout    time.Duration
}

// New creates a Verifier for the given strings, pre-compiling any regex
// tails up front so a bad pattern fails at ruleset-build time rather than
// mid-scan.
func New(strings []types.StringDef) (*Verifier, error) {
	v := &Verifier{
		regexCache: make(map[int]*regexp2.Regexp),
		timeout:    DefaultRegexTimeout,
	}
	for _, s := range strings {
		if !s.Flags.Has(types.StringRegexp) {
			continue
		}
		re, err := regexp2.Compile(string(s.Pattern), regexp2.RE2)
		if err != nil {
			re, err = regexp2.Compile(string(s.Pattern), regexp2.None)
			if err != nil {
				return nil, fmt.Errorf("submatcher: compiling regex for string %q: %w", s.Name, err)
			}
		}
		re.MatchTimeout = v.timeout
		v.regexCache[s.ID] = re
	}
	return v, nil
}

// Verify checks the candidate hit of s's literal keyword found at
// [offset, offset+len(keyword)) in data, and returns the confirmed match if
// every applicable modifier is satisfied. A nil, nil return means "not a
// real match" (a Verify-level rejection per §9 Open Question 1), not an
// error; only unrecoverable conditions (a REGEXP string with no compiled
// regex, or the regex engine failing, e.g. on its match timeout) return err.
func (v *Verifier) Verify(s *types.StringDef, data []byte, offset int64, keywordLen int) (*matchlist.Match, error) {
	// Only the REGEXP, FULLWORD and AT/IN checks are applied here. NOCASE,
	// WIDE and HEX are not: the automaton is built from the keyword bytes as
	// given, so a candidate reaches Verify only where those exact bytes
	// occur.
	start := offset
	length := keywordLen

	if s.Flags.Has(types.StringRegexp) {
		m, err := v.verifyRegexTail(s, data, start)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, nil
		}
		start, length = m.Offset, m.Length
	}

	if s.Flags.Has(types.StringFullWord) && !isFullWord(data, start, length) {
		return nil, nil
	}

	if s.Flags.Has(types.StringAnchoredAt) && start != s.AnchorOffset {
		return nil, nil
	}
	if s.Flags.Has(types.StringAnchoredIn) && (start < s.AnchorRangeStart || start > s.AnchorRangeEnd) {
		return nil, nil
	}

	return &matchlist.Match{Offset: start, Length: length, Data: snapshotData(data, start, length)}, nil
}

// snapshotData copies up to matchlist.MaxMatchData bytes of the matched
// region, bounding the matches arena's growth against arbitrarily long
// matches (e.g. a greedy regex tail) while still letting short matches carry
// their full matched bytes.
func snapshotData(data []byte, start int64, length int) []byte {
	if start < 0 || start >= int64(len(data)) {
		return nil
	}
	end := start + int64(length)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if end-start > matchlist.MaxMatchData {
		end = start + matchlist.MaxMatchData
	}
	snap := make([]byte, end-start)
	copy(snap, data[start:end])
	return snap
}

// verifyRegexTail re-anchors the string's compiled regex at offset and
// confirms it actually matches there (the automaton's keyword is only a
// literal substring extracted from the pattern as a prefilter; the regex
// itself is the ground truth).
func (v *Verifier) verifyRegexTail(s *types.StringDef, data []byte, offset int64) (*matchlist.Match, error) {
	re := v.regexCache[s.ID]
	if re == nil {
		return nil, fmt.Errorf("submatcher: no compiled regex cached for string %q", s.Name)
	}
	if offset < 0 || offset > int64(len(data)) {
		return nil, nil
	}

	tail := string(data[offset:])
	m, err := re.FindStringMatch(tail)
	if err != nil {
		return nil, fmt.Errorf("submatcher: regex match error for string %q: %w", s.Name, err)
	}
	if m == nil || m.Index != 0 {
		return nil, nil
	}
	return &matchlist.Match{Offset: offset, Length: m.Length}, nil
}

// isFullWord reports whether the byte before start and the byte after
// start+length are both absent or non-word characters, per the FULLWORD
// modifier's semantics.
func isFullWord(data []byte, start int64, length int) bool {
	if start > 0 && isWordByte(data[start-1]) {
		return false
	}
	end := start + int64(length)
	if end < int64(len(data)) && isWordByte(data[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= '0' && b <= '9') ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z')
}
