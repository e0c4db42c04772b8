// Package rulefixture loads a flat YAML ruleset description into a
// pkg/ruleset.Ruleset via ruleset.Builder. It is a test/CLI convenience,
// not the rule-source compiler named in §1's Non-goals: its condition
// grammar is deliberately restricted to a boolean combination of string
// references (AND/OR/ANY/ALL of a set), which is enough to exercise the
// scan core end-to-end without reimplementing a full expression compiler.
package rulefixture

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/scanforge/yaracore/pkg/condvm"
	"github.com/scanforge/yaracore/pkg/ruleset"
	"github.com/scanforge/yaracore/pkg/types"
	"github.com/scanforge/yaracore/pkg/yaraerr"
)

type fixtureFile struct {
	Externals []fixtureExternal `yaml:"externals"`
	Rules     []fixtureRule     `yaml:"rules"`
}

type fixtureExternal struct {
	Name    string      `yaml:"name"`
	Type    string      `yaml:"type"` // "integer", "boolean", "float", "string"
	Default interface{} `yaml:"default"`
}

type fixtureRule struct {
	ID        string           `yaml:"id"`
	Namespace string           `yaml:"namespace"`
	Private   bool             `yaml:"private"`
	Global    bool             `yaml:"global"`
	Strings   []fixtureString  `yaml:"strings"`
	Condition fixtureCondition `yaml:"condition"`
}

type fixtureString struct {
	Name     string   `yaml:"name"`
	Pattern  string   `yaml:"pattern"`
	Keywords []string `yaml:"keywords,omitempty"`
	ASCII    bool     `yaml:"ascii"`
	Wide     bool     `yaml:"wide"`
	Nocase   bool     `yaml:"nocase"`
	Fullword bool     `yaml:"fullword"`
	Regexp   bool     `yaml:"regexp"`
	Hex      bool     `yaml:"hex"`

	AnchorAt      *int64 `yaml:"anchor_at,omitempty"`
	AnchorInStart *int64 `yaml:"anchor_in_start,omitempty"`
	AnchorInEnd   *int64 `yaml:"anchor_in_end,omitempty"`
}

// fixtureCondition is a flat boolean combinator over a rule's own strings:
// Op is one of "and", "or", "any", "all" ("any"/"all" are aliases for
// "or"/"and" written the way a rule author would say them); Strings names
// the string references it combines (all of them if omitted).
type fixtureCondition struct {
	Op      string   `yaml:"op"`
	Strings []string `yaml:"strings,omitempty"`
}

// Load parses a fixture document from r and builds a Ruleset from it.
func Load(r io.Reader) (*ruleset.Ruleset, error) {
	var doc fixtureFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("rulefixture: parsing yaml: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, yaraerr.ErrNoRules
	}

	b := ruleset.NewBuilder()

	for _, ext := range doc.Externals {
		if err := declareExternal(b, ext); err != nil {
			return nil, err
		}
	}

	namespaceIdx := make(map[string]int)
	var program condvm.Program

	for _, fr := range doc.Rules {
		ns := fr.Namespace
		if ns == "" {
			ns = "default"
		}
		nsIdx, ok := namespaceIdx[ns]
		if !ok {
			nsIdx = b.AddNamespace(ns)
			namespaceIdx[ns] = nsIdx
		}

		var flags types.RuleFlags
		if fr.Private {
			flags |= types.RulePrivate
		}
		if fr.Global {
			flags |= types.RuleGlobal
		}

		ruleIdx, err := b.AddRule(fr.ID, nsIdx, flags)
		if err != nil {
			return nil, fmt.Errorf("rulefixture: rule %q: %w", fr.ID, err)
		}

		nameToID := make(map[string]int)
		for _, fs := range fr.Strings {
			id, err := addString(b, ruleIdx, fs)
			if err != nil {
				return nil, fmt.Errorf("rulefixture: rule %q string %q: %w", fr.ID, fs.Name, err)
			}
			nameToID[fs.Name] = id
		}

		addr := len(program)
		insns, err := compileCondition(fr.Condition, nameToID)
		if err != nil {
			return nil, fmt.Errorf("rulefixture: rule %q condition: %w", fr.ID, err)
		}
		program = append(program, insns...)
		if err := b.SetConditionAddr(ruleIdx, addr); err != nil {
			return nil, err
		}
	}

	b.SetProgram(program)
	return b.Build()
}

func declareExternal(b *ruleset.Builder, ext fixtureExternal) error {
	switch ext.Type {
	case "integer":
		v, _ := toInt64(ext.Default)
		b.DefineIntegerVariable(ext.Name, v)
	case "boolean":
		v, _ := ext.Default.(bool)
		b.DefineBooleanVariable(ext.Name, v)
	case "float":
		v, _ := toFloat64(ext.Default)
		b.DefineFloatVariable(ext.Name, v)
	case "string":
		v, _ := ext.Default.(string)
		b.DefineStringVariable(ext.Name, v)
	default:
		return fmt.Errorf("rulefixture: external %q has unknown type %q: %w", ext.Name, ext.Type, yaraerr.ErrInvalidArgument)
	}
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func addString(b *ruleset.Builder, ruleIdx int, fs fixtureString) (int, error) {
	var flags types.StringFlags
	if fs.ASCII {
		flags |= types.StringASCII
	}
	if fs.Wide {
		flags |= types.StringWide
	}
	if fs.Nocase {
		flags |= types.StringNocase
	}
	if fs.Fullword {
		flags |= types.StringFullWord
	}
	if fs.Regexp {
		flags |= types.StringRegexp
	}
	if fs.Hex {
		flags |= types.StringHex
	}
	if fs.AnchorAt != nil {
		flags |= types.StringAnchoredAt
	}
	if fs.AnchorInStart != nil && fs.AnchorInEnd != nil {
		flags |= types.StringAnchoredIn
	}

	var keywords [][]byte
	for _, k := range fs.Keywords {
		keywords = append(keywords, []byte(k))
	}

	id, err := b.AddString(ruleIdx, fs.Name, []byte(fs.Pattern), flags, keywords)
	if err != nil {
		return 0, err
	}

	if fs.AnchorAt != nil {
		if err := b.SetStringAnchor(id, *fs.AnchorAt, 0, 0); err != nil {
			return 0, err
		}
	} else if fs.AnchorInStart != nil && fs.AnchorInEnd != nil {
		if err := b.SetStringAnchor(id, 0, *fs.AnchorInStart, *fs.AnchorInEnd); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// compileCondition lowers a fixture's boolean combinator into a Program
// fragment ending with OpSetMatch.
func compileCondition(c fixtureCondition, nameToID map[string]int) (condvm.Program, error) {
	names := c.Strings
	if len(names) == 0 {
		for name := range nameToID {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("condition references no strings")
	}

	var program condvm.Program
	for i, name := range names {
		id, ok := nameToID[name]
		if !ok {
			return nil, fmt.Errorf("condition references undefined string %q", name)
		}
		program = append(program, condvm.Instruction{Op: condvm.OpStringFound, StringID: id})
		if i > 0 {
			switch c.Op {
			case "and", "all", "":
				program = append(program, condvm.Instruction{Op: condvm.OpAnd})
			case "or", "any":
				program = append(program, condvm.Instruction{Op: condvm.OpOr})
			default:
				return nil, fmt.Errorf("unknown condition op %q", c.Op)
			}
		}
	}
	program = append(program, condvm.Instruction{Op: condvm.OpSetMatch})
	return program, nil
}
