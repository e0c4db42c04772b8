// Package ruleset implements the frozen ruleset container described in §4.7
// of the scan core spec: the immutable bundle of automaton, rule/namespace/
// string tables, external variables, and the condition bytecode program
// that a scan orchestrator scans against.
//
// A Ruleset is safe for concurrent scans: scans only read it, and the
// thread-slot bitmask used to cap concurrent reentrancy (§4.6) is guarded by
// a mutex. The Define*Variable methods overwrite external-variable values
// without taking that mutex.
// Per-scan transient state never lives here; see pkg/scanctx.
package ruleset

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"sync"

	"github.com/scanforge/yaracore/pkg/arena"
	"github.com/scanforge/yaracore/pkg/automaton"
	"github.com/scanforge/yaracore/pkg/condvm"
	"github.com/scanforge/yaracore/pkg/submatcher"
	"github.com/scanforge/yaracore/pkg/types"
	"github.com/scanforge/yaracore/pkg/yaraerr"
)

// MaxThreads is the default cap on concurrent scans against one Ruleset,
// matching the original's YR_MAX_THREADS.
const MaxThreads = 32

// Ruleset is the frozen, scannable result of Builder.Build or Load.
type Ruleset struct {
	automaton *automaton.Automaton
	verifier  *submatcher.Verifier
	program   condvm.Program

	namespaces []types.Namespace
	rules      []types.Rule
	strings    []types.StringDef
	externals  []types.ExternalVariable

	mu         sync.Mutex
	threadMask uint64
	maxThreads int
}

// Namespaces, Rules, Strings, Externals give read-only access to the
// ruleset's declaration-order tables, for scan orchestration and
// inspection tooling.
func (r *Ruleset) Namespaces() []types.Namespace        { return r.namespaces }
func (r *Ruleset) Rules() []types.Rule                  { return r.rules }
func (r *Ruleset) Strings() []types.StringDef           { return r.strings }
func (r *Ruleset) Externals() []types.ExternalVariable  { return r.externals }
func (r *Ruleset) Automaton() *automaton.Automaton      { return r.automaton }
func (r *Ruleset) Verifier() *submatcher.Verifier       { return r.verifier }
func (r *Ruleset) Program() condvm.Program              { return r.program }

// AcquireSlot finds the lowest clear bit in the thread-slot bitmask, sets
// it, and returns its index, matching the original's scan order ("while
// mask & bit: tidx++; bit <<= 1") so slot reuse is deterministic. It
// returns ErrTooManyScanThreads once every slot up to maxThreads is in use.
func (r *Ruleset) AcquireSlot() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for tidx := 0; tidx < r.maxThreads; tidx++ {
		bit := uint64(1) << uint(tidx)
		if r.threadMask&bit == 0 {
			r.threadMask |= bit
			return tidx, nil
		}
	}
	return 0, yaraerr.ErrTooManyScanThreads
}

// ReleaseSlot clears tidx's bit. Callers must have already cleared any
// per-scan transient state associated with the slot (scanctx.Context.
// Teardown) before releasing it, per the original's ordering.
func (r *Ruleset) ReleaseSlot(tidx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threadMask &^= uint64(1) << uint(tidx)
}

// DefineIntegerVariable overwrites the current value of an existing integer
// external variable.
func (r *Ruleset) DefineIntegerVariable(identifier string, value int64) error {
	ext, err := r.findExternal(identifier, types.ExternalInteger)
	if err != nil {
		return err
	}
	ext.IntValue = value
	return nil
}

// DefineBooleanVariable overwrites the current value of an existing boolean
// external variable.
func (r *Ruleset) DefineBooleanVariable(identifier string, value bool) error {
	ext, err := r.findExternal(identifier, types.ExternalBoolean)
	if err != nil {
		return err
	}
	ext.BoolValue = value
	return nil
}

// DefineFloatVariable overwrites the current value of an existing float
// external variable.
func (r *Ruleset) DefineFloatVariable(identifier string, value float64) error {
	ext, err := r.findExternal(identifier, types.ExternalFloat)
	if err != nil {
		return err
	}
	ext.FloatValue = value
	return nil
}

// DefineStringVariable overwrites the current value of an existing string
// external variable. The previous value is simply discarded (Go's GC frees
// it), mirroring the original's free-then-duplicate behavior without an
// explicit free call.
func (r *Ruleset) DefineStringVariable(identifier string, value string) error {
	ext, err := r.findExternal(identifier, types.ExternalString)
	if err != nil {
		return err
	}
	ext.StringValue = value
	return nil
}

func (r *Ruleset) findExternal(identifier string, wantType types.ExternalVariableType) (*types.ExternalVariable, error) {
	for i := range r.externals {
		if r.externals[i].Identifier == identifier {
			if r.externals[i].Type != wantType {
				return nil, fmt.Errorf("ruleset: external %q is not the requested type: %w", identifier, yaraerr.ErrInvalidArgument)
			}
			return &r.externals[i], nil
		}
	}
	return nil, fmt.Errorf("ruleset: undefined external variable %q: %w", identifier, yaraerr.ErrInvalidArgument)
}

// snapshot is the gob-serializable form of a Ruleset, persisted inside an
// arena by Save/Load.
type snapshot struct {
	Automaton  automaton.Snapshot
	Program    condvm.Program
	Namespaces []types.Namespace
	Rules      []types.Rule
	Strings    []types.StringDef
	Externals  []types.ExternalVariable
	MaxThreads int
}

// Save persists the ruleset to w. The persisted stream's references are
// arena-relative offsets rather than host pointers, so Load can reconstruct
// an identical Ruleset regardless of where it is mapped back in.
func (r *Ruleset) Save(w io.Writer) error {
	snap := snapshot{
		Automaton:  r.automaton.Snapshot(),
		Program:    r.program,
		Namespaces: r.namespaces,
		Rules:      r.rules,
		Strings:    r.strings,
		Externals:  r.externals,
		MaxThreads: r.maxThreads,
	}

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(snap); err != nil {
		return fmt.Errorf("ruleset: encoding snapshot: %w", err)
	}

	a := arena.New(payload.Len())
	ref, buf, err := a.Allocate(payload.Len())
	if err != nil {
		return fmt.Errorf("ruleset: %w", err)
	}
	copy(buf, payload.Bytes())
	_ = ref // the container has exactly one allocation; Load reads from its base

	return a.Save(w)
}

// Load reconstructs a Ruleset from a stream produced by Save. It returns
// ErrCorruptFile if the stream's arena header or payload is malformed.
func Load(r io.Reader) (*Ruleset, error) {
	a, err := arena.Load(r)
	if err != nil {
		return nil, err
	}

	buf, err := a.At(a.BaseAddress(), int(a.Size()))
	if err != nil {
		return nil, fmt.Errorf("ruleset: reading payload: %w", yaraerr.ErrCorruptFile)
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("ruleset: decoding snapshot: %w", yaraerr.ErrCorruptFile)
	}

	rs := &Ruleset{
		automaton:  automaton.FromSnapshot(snap.Automaton),
		program:    snap.Program,
		namespaces: snap.Namespaces,
		rules:      snap.Rules,
		strings:    snap.Strings,
		externals:  snap.Externals,
		maxThreads: snap.MaxThreads,
	}
	// Rule/Namespace pointers don't survive gob round-tripping as shared
	// identity; relink them so rule.Namespace points at this ruleset's own
	// namespace slice, matching Builder.Build's invariant.
	for i := range rs.rules {
		nsIdx := 0
		if rs.rules[i].Namespace != nil {
			nsIdx = rs.rules[i].Namespace.Index
		}
		if nsIdx >= 0 && nsIdx < len(rs.namespaces) {
			rs.rules[i].Namespace = &rs.namespaces[nsIdx]
		}
	}

	verifier, err := submatcher.New(rs.strings)
	if err != nil {
		return nil, fmt.Errorf("ruleset: rebuilding verifier: %w", err)
	}
	rs.verifier = verifier

	return rs, nil
}
