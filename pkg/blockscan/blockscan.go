// Package blockscan implements the block scanner described in §4.4 of the
// scan core spec: it drives the Aho-Corasick automaton across one memory
// block, reporting matches to the scan context before consuming each
// transition, checking the scan's timeout every 4096 bytes, and handing
// every candidate hit to a sub-matcher (pkg/submatcher) for verification.
package blockscan

import (
	"github.com/scanforge/yaracore/pkg/automaton"
	"github.com/scanforge/yaracore/pkg/matchlist"
	"github.com/scanforge/yaracore/pkg/scanctx"
	"github.com/scanforge/yaracore/pkg/types"
	"github.com/scanforge/yaracore/pkg/yaraerr"
)

// timeoutCheckInterval is how many input bytes elapse between timeout
// checks, per §4.4.
const timeoutCheckInterval = 4096

// Verifier is the subset of submatcher.Verifier's interface a block scanner
// needs, kept as an interface so callers can substitute a fake in tests.
type Verifier interface {
	Verify(s *types.StringDef, data []byte, offset int64, keywordLen int) (*matchlist.Match, error)
}

// Scanner drives one Automaton across successive blocks, verifying
// candidates against a fixed string table.
type Scanner struct {
	automaton *automaton.Automaton
	strings   []types.StringDef // indexed by StringDef.ID == automaton pattern ID
	verifier  Verifier
	state     uint32
}

// New creates a Scanner. strings must be indexed by ID (strings[i].ID == i)
// since the automaton's pattern IDs are string IDs.
func New(a *automaton.Automaton, strings []types.StringDef, v Verifier) *Scanner {
	return &Scanner{automaton: a, strings: strings, verifier: v, state: automaton.RootState}
}

// Reset returns the scanner to its initial state, for reuse across scans.
func (s *Scanner) Reset() {
	s.state = automaton.RootState
}

// ScanBlock walks data (whose first byte is at absolute position base in
// the scanned address space), reporting confirmed matches into ctx. It
// returns ErrScanTimeout if ctx's deadline elapses partway through.
//
// Per §4.4's exact probe ordering, matches associated with the state
// reached after processing byte i are reported for position i *before* the
// automaton steps on byte i+1 — i.e. matches are read off the state the
// walk is currently sitting in, not the state about to be entered.
func (s *Scanner) ScanBlock(ctx *scanctx.Context, base int64, data []byte) error {
	for i := 0; i < len(data); i++ {
		if i > 0 && i%timeoutCheckInterval == 0 {
			ctx.BytesScanned += timeoutCheckInterval
			if ctx.TimeoutElapsed() {
				return yaraerr.ErrScanTimeout
			}
		}

		if err := s.reportMatches(ctx, base, data, i); err != nil {
			return err
		}

		s.state = s.automaton.Step(s.state, data[i])
	}

	// Drain matches sitting at the terminal state, for patterns ending
	// exactly at the end of this block.
	ctx.BytesScanned += int64(len(data) - (len(data)-1)/timeoutCheckInterval*timeoutCheckInterval)
	return s.reportMatches(ctx, base, data, len(data))
}

// reportMatches reports every pattern match associated with the automaton's
// current state, treating pos as "we are about to process/have just
// finished data[pos]".
func (s *Scanner) reportMatches(ctx *scanctx.Context, base int64, data []byte, pos int) error {
	for m := s.automaton.MatchesAt(s.state); m != nil; m = m.Next {
		keywordLen := m.Backtrack
		start := pos - m.Backtrack
		if start < 0 {
			continue
		}

		strDef := &s.strings[m.PatternID]
		confirmed, err := s.verifier.Verify(strDef, data, base+int64(start), keywordLen)
		if err != nil {
			return err
		}
		if confirmed == nil {
			continue
		}

		if _, err := ctx.RecordMatch(strDef.ID, *confirmed); err != nil {
			if ctx.Callback != nil {
				if action := ctx.Callback(scanctx.TooManyMatches, strDef.RuleIndex, strDef.ID); action == scanctx.Error {
					return yaraerr.ErrCallbackError
				}
			}
			continue
		}
	}
	return nil
}
