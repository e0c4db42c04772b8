package ruleset

import (
	"fmt"

	"github.com/scanforge/yaracore/pkg/automaton"
	"github.com/scanforge/yaracore/pkg/condvm"
	"github.com/scanforge/yaracore/pkg/submatcher"
	"github.com/scanforge/yaracore/pkg/types"
	"github.com/scanforge/yaracore/pkg/yaraerr"
)

// Builder assembles a Ruleset programmatically, standing in for the
// out-of-scope rule-source compiler (§1 Non-goals). It's what
// pkg/rulefixture's YAML loader and tests build rulesets with.
type Builder struct {
	namespaces []types.Namespace
	rules      []types.Rule
	strings    []types.StringDef
	externals  []types.ExternalVariable
	program    condvm.Program
	maxThreads int
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{maxThreads: MaxThreads}
}

// WithMaxThreads overrides the concurrent-scan cap (default MaxThreads).
func (b *Builder) WithMaxThreads(n int) *Builder {
	b.maxThreads = n
	return b
}

// AddNamespace registers a namespace and returns its index.
func (b *Builder) AddNamespace(name string) int {
	idx := len(b.namespaces)
	b.namespaces = append(b.namespaces, types.Namespace{Index: idx, Name: name})
	return idx
}

// AddRule registers a rule in the given namespace and returns its index.
// The rule's condition program address is set separately via
// SetConditionAddr once SetProgram has assigned it an offset.
func (b *Builder) AddRule(id string, namespaceIdx int, flags types.RuleFlags) (int, error) {
	if namespaceIdx < 0 || namespaceIdx >= len(b.namespaces) {
		return 0, fmt.Errorf("ruleset: namespace index %d out of range: %w", namespaceIdx, yaraerr.ErrInvalidArgument)
	}
	idx := len(b.rules)
	b.rules = append(b.rules, types.Rule{
		Index:     idx,
		ID:        id,
		Namespace: &b.namespaces[namespaceIdx],
		Flags:     flags,
	})
	return idx, nil
}

// AddString registers a string belonging to ruleIdx and returns its ID.
// keywords are the literal byte sequences fed to the automaton as a
// prefilter for this string; pass nil to use pattern itself (the common
// case for a plain literal string).
func (b *Builder) AddString(ruleIdx int, name string, pattern []byte, flags types.StringFlags, keywords [][]byte) (int, error) {
	if ruleIdx < 0 || ruleIdx >= len(b.rules) {
		return 0, fmt.Errorf("ruleset: rule index %d out of range: %w", ruleIdx, yaraerr.ErrInvalidArgument)
	}
	id := len(b.strings)
	b.strings = append(b.strings, types.StringDef{
		ID:        id,
		RuleIndex: ruleIdx,
		Name:      name,
		Pattern:   pattern,
		Flags:     flags,
		Keywords:  keywords,
	})
	b.rules[ruleIdx].StringIDs = append(b.rules[ruleIdx].StringIDs, id)
	return id, nil
}

// SetStringAnchor records an AT/IN anchor for an already-added string,
// identified by its ID as returned from AddString.
func (b *Builder) SetStringAnchor(stringID int, offset, rangeStart, rangeEnd int64) error {
	if stringID < 0 || stringID >= len(b.strings) {
		return fmt.Errorf("ruleset: string id %d out of range: %w", stringID, yaraerr.ErrInvalidArgument)
	}
	b.strings[stringID].AnchorOffset = offset
	b.strings[stringID].AnchorRangeStart = rangeStart
	b.strings[stringID].AnchorRangeEnd = rangeEnd
	return nil
}

// SetConditionAddr records where ruleIdx's condition program begins within
// the program set by SetProgram.
func (b *Builder) SetConditionAddr(ruleIdx int, addr int) error {
	if ruleIdx < 0 || ruleIdx >= len(b.rules) {
		return fmt.Errorf("ruleset: rule index %d out of range: %w", ruleIdx, yaraerr.ErrInvalidArgument)
	}
	b.rules[ruleIdx].ConditionAddr = addr
	return nil
}

// SetProgram installs the shared condition bytecode stream.
func (b *Builder) SetProgram(p condvm.Program) {
	b.program = p
}

// DefineIntegerVariable, DefineBooleanVariable, DefineFloatVariable, and
// DefineStringVariable declare an external variable with its default value
// at build time; use Ruleset.Define*Variable to override afterward.
func (b *Builder) DefineIntegerVariable(identifier string, value int64) {
	b.externals = append(b.externals, types.ExternalVariable{Identifier: identifier, Type: types.ExternalInteger, IntValue: value})
}

func (b *Builder) DefineBooleanVariable(identifier string, value bool) {
	b.externals = append(b.externals, types.ExternalVariable{Identifier: identifier, Type: types.ExternalBoolean, BoolValue: value})
}

func (b *Builder) DefineFloatVariable(identifier string, value float64) {
	b.externals = append(b.externals, types.ExternalVariable{Identifier: identifier, Type: types.ExternalFloat, FloatValue: value})
}

func (b *Builder) DefineStringVariable(identifier string, value string) {
	b.externals = append(b.externals, types.ExternalVariable{Identifier: identifier, Type: types.ExternalString, StringValue: value})
}

// Build constructs the automaton from every string's keyword set, compiles
// the default sub-matcher against the string table, and returns the frozen
// Ruleset. It fails with ErrNoRules if no rules were added.
func (b *Builder) Build() (*Ruleset, error) {
	if len(b.rules) == 0 {
		return nil, yaraerr.ErrNoRules
	}

	ac := automaton.NewBuilder()
	for _, s := range b.strings {
		keywords := s.Keywords
		if len(keywords) == 0 {
			keywords = [][]byte{s.Pattern}
		}
		for _, kw := range keywords {
			if err := ac.AddPattern(s.ID, kw); err != nil {
				return nil, fmt.Errorf("ruleset: adding pattern for string %q: %w", s.Name, err)
			}
		}
	}
	at, err := ac.Build()
	if err != nil {
		return nil, fmt.Errorf("ruleset: building automaton: %w", err)
	}

	verifier, err := submatcher.New(b.strings)
	if err != nil {
		return nil, fmt.Errorf("ruleset: building verifier: %w", err)
	}

	return &Ruleset{
		automaton:  at,
		verifier:   verifier,
		program:    b.program,
		namespaces: b.namespaces,
		rules:      b.rules,
		strings:    b.strings,
		externals:  b.externals,
		maxThreads: b.maxThreads,
	}, nil
}
