package scanner

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/scanforge/yaracore/pkg/blockscan"
	"github.com/scanforge/yaracore/pkg/condvm"
	"github.com/scanforge/yaracore/pkg/ruleset"
	"github.com/scanforge/yaracore/pkg/scanctx"
	"github.com/scanforge/yaracore/pkg/types"
	"github.com/scanforge/yaracore/pkg/yaraerr"
)

// Orchestrator drives scans against one frozen Ruleset, following the
// original's yr_rules_scan_mem/_file/_fd/_proc entry points, all of which
// ultimately funnel through ScanBlocks (§4.7's central driver).
type Orchestrator struct {
	rules  *ruleset.Ruleset
	opts   Options
	logger DebugLogger
}

// New creates an Orchestrator for rules, applying opts.
func New(rules *ruleset.Ruleset, opts Options, logger DebugLogger) *Orchestrator {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &Orchestrator{rules: rules, opts: opts, logger: logger}
}

// ScanMemory scans one in-memory buffer as a single block.
func (o *Orchestrator) ScanMemory(data []byte, cb scanctx.Callback) (*ScanResult, error) {
	return o.ScanBlocks(&types.Block{Data: data, Base: 0}, int64(len(data)), cb)
}

// ScanFile reads path in its entirety and scans it as a single block. Real
// deployments would memory-map path instead; this port keeps the file I/O
// boundary intentionally simple since the spec places I/O source ownership
// out of the scan core's scope (§1).
func (o *Orchestrator) ScanFile(path string, cb scanctx.Callback) (*ScanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scanner: %w: %v", yaraerr.ErrCouldNotOpenFile, err)
	}
	defer f.Close()
	return o.ScanFD(f, cb)
}

// ScanFD scans everything readable from an open file descriptor as a single
// block.
func (o *Orchestrator) ScanFD(f *os.File, cb scanctx.Callback) (*ScanResult, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("scanner: %w: %v", yaraerr.ErrCouldNotMapFile, err)
	}
	data := make([]byte, info.Size())
	if _, err := io.ReadFull(f, data); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("scanner: %w: %v", yaraerr.ErrCouldNotMapFile, err)
	}
	return o.ScanMemory(data, cb)
}

// ScanProcess is a best-effort scan of a live process's memory. It is only
// implemented on linux (via /proc/<pid>/maps + /proc/<pid>/mem); on other
// platforms it returns ErrUnsupportedPlatform, since process-memory
// enumeration is an external collaborator the spec places outside the
// scan core (§1).
func (o *Orchestrator) ScanProcess(pid int, cb scanctx.Callback) (*ScanResult, error) {
	return o.scanProcessLinux(pid, cb)
}

// ScanBlocks is the central driver: it acquires a thread slot, walks the
// block list through the automaton, evaluates every rule's condition, and
// reports results through cb in declaration order, tearing context down on
// every exit path.
func (o *Orchestrator) ScanBlocks(first *types.Block, fileSize int64, cb scanctx.Callback) (*ScanResult, error) {
	scanID := uuid.New()
	o.logger.Log("scan %s: acquiring thread slot", scanID)

	tidx, err := o.rules.AcquireSlot()
	if err != nil {
		return nil, err
	}
	defer o.rules.ReleaseSlot(tidx)

	ctx := scanctx.New(len(o.rules.Rules()), len(o.rules.Namespaces()), len(o.rules.Strings()), cloneExternals(o.rules.Externals()), cb)
	ctx.ThreadSlot = tidx
	ctx.FileSize = fileSize
	if o.opts.Timeout > 0 {
		ctx.Deadline = time.Now().Add(o.opts.Timeout)
	}
	defer ctx.Teardown()

	bs := blockscan.New(o.rules.Automaton(), o.rules.Strings(), o.rules.Verifier())

	blockCount := 0
	for b := first; b != nil; b = b.Next {
		if blockCount == 0 {
			ctx.ProbeEntryPoint(func() (int64, error) {
				return detectEntryPoint(b.Data)
			})
		}
		o.logger.Log("scan %s: block %d, base %d, len %d", scanID, blockCount, b.Base, len(b.Data))

		if err := bs.ScanBlock(ctx, b.Base, b.Data); err != nil {
			if o.opts.Tolerant {
				o.logger.Log("scan %s: block %d error (tolerated): %v", scanID, blockCount, err)
			} else {
				return nil, err
			}
		}
		blockCount++
	}

	return o.evaluateAndReport(ctx, scanID.String())
}

func (o *Orchestrator) evaluateAndReport(ctx *scanctx.Context, scanID string) (*ScanResult, error) {
	vm := condvm.New(o.rules.Program())
	rules := o.rules.Rules()

	// Phase A: evaluate every GLOBAL rule first so UnsatisfiedGlobal is
	// fully populated before any suppression decision is made, matching
	// the original's namespace-suppression contract.
	for i := range rules {
		if rules[i].Flags.Global() {
			if _, err := vm.Eval(ctx, &rules[i]); err != nil {
				return nil, fmt.Errorf("scanner: evaluating global rule %q: %w", rules[i].ID, err)
			}
		}
	}

	result := &ScanResult{}

	for i := range rules {
		rule := &rules[i]
		var matched bool
		if rule.Flags.Global() {
			matched = ctx.RuleFlags[rule.Index]
		} else {
			m, err := vm.Eval(ctx, rule)
			if err != nil {
				return nil, fmt.Errorf("scanner: evaluating rule %q: %w", rule.ID, err)
			}
			matched = m
		}

		suppressed := !rule.Flags.Global() && ctx.UnsatisfiedGlobal[rule.Namespace.Index]
		reportMatched := matched && !suppressed

		if rule.Flags.Private() {
			continue
		}

		result.Summary.TotalRules++
		if reportMatched {
			result.Summary.MatchedRules++
		}
		result.Results = append(result.Results, RuleResult{
			RuleID:    rule.ID,
			Namespace: rule.Namespace.Name,
			Matched:   reportMatched,
			Strings:   stringHitsFor(ctx, rule, o.rules.Strings()),
		})

		if ctx.Callback == nil {
			continue
		}
		msg := scanctx.RuleNotMatching
		if reportMatched {
			msg = scanctx.RuleMatching
		}
		switch ctx.Callback(msg, rule.Index, -1) {
		case scanctx.Abort:
			o.logger.Log("scan %s: aborted by callback at rule %q", scanID, rule.ID)
			result.Aborted = true
			return result, nil
		case scanctx.Error:
			return nil, yaraerr.ErrCallbackError
		}
	}

	if ctx.Callback != nil {
		ctx.Callback(scanctx.ScanFinished, -1, -1)
	}
	return result, nil
}

func stringHitsFor(ctx *scanctx.Context, rule *types.Rule, strings []types.StringDef) []StringHit {
	var hits []StringHit
	for _, sid := range rule.StringIDs {
		if !ctx.Matches.HasMatch(sid) {
			continue
		}
		matches := ctx.Matches.Matches(sid)
		offsets := make([]int64, len(matches))
		for i, m := range matches {
			offsets[i] = m.Offset
		}
		name := ""
		if sid >= 0 && sid < len(strings) {
			name = strings[sid].Name
		}
		hits = append(hits, StringHit{Name: name, Offsets: offsets})
	}
	return hits
}

func cloneExternals(src []types.ExternalVariable) []types.ExternalVariable {
	out := make([]types.ExternalVariable, len(src))
	copy(out, src)
	return out
}

// detectEntryPoint is a minimal, format-agnostic entry-point heuristic:
// file-format detection is explicitly out of scope (§9), so this only
// recognizes the two-byte "MZ" DOS stub marker PE binaries start with and
// otherwise reports "no entry point", matching the original's silent
// failure on unrecognized formats.
func detectEntryPoint(data []byte) (int64, error) {
	if len(data) >= 2 && data[0] == 'M' && data[1] == 'Z' {
		return 0, nil
	}
	return 0, fmt.Errorf("scanner: no recognized entry point")
}
