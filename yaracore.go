// Package yaracore provides a byte-pattern scan engine: an Aho-Corasick
// automaton coupled to a stack-based condition evaluator over compiled
// rulesets, following the architecture of YARA's scan core.
//
// # Basic Usage
//
// Load a ruleset from a YAML fixture and scan content:
//
//	scanner, err := yaracore.NewScanner(yaracore.WithRulesFile("rules.yaml"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := scanner.ScanString("xxfooxx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, r := range result.Results {
//	    if r.Matched {
//	        fmt.Printf("rule %s matched\n", r.RuleID)
//	    }
//	}
//
// # With a Timeout
//
//	scanner, err := yaracore.NewScanner(
//	    yaracore.WithRulesFile("rules.yaml"),
//	    yaracore.WithTimeout(5*time.Second),
//	)
package yaracore

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/scanforge/yaracore/pkg/rulefixture"
	"github.com/scanforge/yaracore/pkg/ruleset"
	"github.com/scanforge/yaracore/pkg/scanctx"
	"github.com/scanforge/yaracore/pkg/scanner"
)

// Re-export commonly used types for convenience. Users can import just
// "github.com/scanforge/yaracore" without reaching into subpackages.
type (
	// Ruleset is the frozen, scannable compiled form of a rule set.
	Ruleset = ruleset.Ruleset

	// ScanResult is the full outcome of one scan.
	ScanResult = scanner.ScanResult

	// RuleResult is one rule's outcome within a ScanResult.
	RuleResult = scanner.RuleResult

	// Callback receives per-rule notifications during a scan; see
	// pkg/scanctx for the message and action vocabulary.
	Callback = scanctx.Callback
)

// Scanner wraps a compiled Ruleset with the options a caller configured via
// NewScanner, exposing the string/byte/file scan entry points a caller
// reaches for most often.
type Scanner struct {
	rules *ruleset.Ruleset
	opts  scanner.Options
	mu    sync.RWMutex
}

// scannerConfig holds scanner configuration collected from Option values.
type scannerConfig struct {
	rules     *ruleset.Ruleset
	rulesFile string
	timeout   time.Duration
	tolerant  bool
}

// Option configures a Scanner.
type Option func(*scannerConfig)

// WithRuleset uses an already-compiled Ruleset instead of loading one from a
// fixture file.
func WithRuleset(rs *Ruleset) Option {
	return func(c *scannerConfig) {
		c.rules = rs
	}
}

// WithRulesFile loads a ruleset from a YAML rule fixture at path.
func WithRulesFile(path string) Option {
	return func(c *scannerConfig) {
		c.rulesFile = path
	}
}

// WithTimeout bounds each scan's duration. Zero (the default) disables the
// deadline check.
func WithTimeout(d time.Duration) Option {
	return func(c *scannerConfig) {
		c.timeout = d
	}
}

// WithTolerant keeps scanning subsequent blocks after a per-block error
// instead of aborting the whole scan.
func WithTolerant() Option {
	return func(c *scannerConfig) {
		c.tolerant = true
	}
}

// NewScanner creates a new Scanner with the given options. At least one of
// WithRuleset or WithRulesFile must be supplied; when both are, the
// WithRuleset ruleset is used and the file is not read.
func NewScanner(opts ...Option) (*Scanner, error) {
	config := &scannerConfig{}
	for _, opt := range opts {
		opt(config)
	}

	rs := config.rules
	if rs == nil {
		if config.rulesFile == "" {
			return nil, fmt.Errorf("yaracore: NewScanner requires WithRuleset or WithRulesFile")
		}
		loaded, err := LoadRulesFromFile(config.rulesFile)
		if err != nil {
			return nil, err
		}
		rs = loaded
	}

	return &Scanner{
		rules: rs,
		opts: scanner.Options{
			Timeout:  config.timeout,
			Tolerant: config.tolerant,
		},
	}, nil
}

// ScanString scans a string for rule matches.
func (s *Scanner) ScanString(content string) (*ScanResult, error) {
	return s.ScanBytes([]byte(content))
}

// ScanBytes scans raw bytes for rule matches.
func (s *Scanner) ScanBytes(content []byte) (*ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o := scanner.New(s.rules, s.opts, scanner.NoopLogger{})
	return o.ScanMemory(content, nil)
}

// ScanFile reads and scans a file for rule matches.
func (s *Scanner) ScanFile(path string) (*ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o := scanner.New(s.rules, s.opts, scanner.NoopLogger{})
	return o.ScanFile(path, nil)
}

// ScanBytesWithCallback scans raw bytes, invoking cb for every non-private
// rule reported so the caller can observe matches as they are decided, or abort
// the scan early.
func (s *Scanner) ScanBytesWithCallback(content []byte, cb Callback) (*ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o := scanner.New(s.rules, s.opts, scanner.NoopLogger{})
	return o.ScanMemory(content, cb)
}

// Ruleset returns the compiled ruleset the scanner scans against.
func (s *Scanner) Ruleset() *Ruleset {
	return s.rules
}

// LoadRulesFromFile loads a compiled Ruleset from a YAML rule fixture. Use
// this with WithRuleset to reuse one Ruleset across multiple Scanners.
func LoadRulesFromFile(path string) (*Ruleset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("yaracore: opening rules file: %w", err)
	}
	defer f.Close()

	rs, err := rulefixture.Load(f)
	if err != nil {
		return nil, fmt.Errorf("yaracore: loading rules: %w", err)
	}
	return rs, nil
}
