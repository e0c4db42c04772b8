package yaracore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/scanforge/yaracore/pkg/ruleset"
	"github.com/scanforge/yaracore/pkg/scanctx"
	"github.com/scanforge/yaracore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFixtureDoc = `
rules:
  - id: has_foo
    strings:
      - name: $a
        pattern: foo
        ascii: true
    condition:
      op: and
`

func writeTestFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testFixtureDoc), 0o644))
	return path
}

func TestNewScannerRequiresRulesSource(t *testing.T) {
	_, err := NewScanner()
	require.Error(t, err)
}

func TestNewScannerWithRulesFile(t *testing.T) {
	path := writeTestFixture(t)

	s, err := NewScanner(WithRulesFile(path))
	require.NoError(t, err)
	assert.Len(t, s.Ruleset().Rules(), 1)
}

func TestScanString(t *testing.T) {
	path := writeTestFixture(t)
	s, err := NewScanner(WithRulesFile(path))
	require.NoError(t, err)

	result, err := s.ScanString("xxfooxx")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.MatchedRules)
}

func TestScanBytesNoMatch(t *testing.T) {
	path := writeTestFixture(t)
	s, err := NewScanner(WithRulesFile(path))
	require.NoError(t, err)

	result, err := s.ScanBytes([]byte("nothing interesting here"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Summary.MatchedRules)
}

func TestScanFile(t *testing.T) {
	path := writeTestFixture(t)
	s, err := NewScanner(WithRulesFile(path))
	require.NoError(t, err)

	dir := t.TempDir()
	target := filepath.Join(dir, "sample.txt")
	require.NoError(t, os.WriteFile(target, []byte("xxfooxx"), 0o644))

	result, err := s.ScanFile(target)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.MatchedRules)
}

func TestWithRuleset(t *testing.T) {
	b := ruleset.NewBuilder()
	ns := b.AddNamespace("default")
	ruleIdx, err := b.AddRule("r", ns, 0)
	require.NoError(t, err)
	_, err = b.AddString(ruleIdx, "$a", []byte("x"), types.StringASCII, nil)
	require.NoError(t, err)
	require.NoError(t, b.SetConditionAddr(ruleIdx, 0))
	rs, err := b.Build()
	require.NoError(t, err)

	s, err := NewScanner(WithRuleset(rs))
	require.NoError(t, err)
	assert.Same(t, rs, s.Ruleset())
}

func TestScanBytesWithCallbackAbort(t *testing.T) {
	path := writeTestFixture(t)
	s, err := NewScanner(WithRulesFile(path))
	require.NoError(t, err)

	cb := func(msg scanctx.CallbackMessage, ruleIdx, stringID int) scanctx.CallbackAction {
		return scanctx.Abort
	}

	result, err := s.ScanBytesWithCallback([]byte("xxfooxx"), cb)
	require.NoError(t, err)
	assert.True(t, result.Aborted)
}

func TestMultipleScannersConcurrent(t *testing.T) {
	path := writeTestFixture(t)
	rs, err := LoadRulesFromFile(path)
	require.NoError(t, err)

	done := make(chan bool, 5)
	for i := 0; i < 5; i++ {
		go func() {
			s, err := NewScanner(WithRuleset(rs))
			assert.NoError(t, err)
			_, err = s.ScanString("xxfooxx")
			assert.NoError(t, err)
			done <- true
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
}
