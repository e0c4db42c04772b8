package ruleset

import (
	"bytes"
	"testing"

	"github.com/scanforge/yaracore/pkg/condvm"
	"github.com/scanforge/yaracore/pkg/types"
	"github.com/scanforge/yaracore/pkg/yaraerr"
	"github.com/stretchr/testify/require"
)

func simpleRuleset(t *testing.T) *Ruleset {
	t.Helper()
	b := NewBuilder()
	ns := b.AddNamespace("default")
	ruleIdx, err := b.AddRule("has_foo", ns, 0)
	require.NoError(t, err)
	_, err = b.AddString(ruleIdx, "$a", []byte("foo"), types.StringASCII, nil)
	require.NoError(t, err)

	program := condvm.Program{
		{Op: condvm.OpStringFound, StringID: 0},
		{Op: condvm.OpSetMatch},
	}
	b.SetProgram(program)
	require.NoError(t, b.SetConditionAddr(ruleIdx, 0))

	rs, err := b.Build()
	require.NoError(t, err)
	return rs
}

func TestBuildProducesScannableRuleset(t *testing.T) {
	rs := simpleRuleset(t)
	require.Len(t, rs.Rules(), 1)
	require.Len(t, rs.Strings(), 1)
	require.NotNil(t, rs.Automaton())
	require.NotNil(t, rs.Verifier())
}

func TestBuildRejectsEmptyRuleset(t *testing.T) {
	b := NewBuilder()
	_, err := b.Build()
	require.ErrorIs(t, err, yaraerr.ErrNoRules)
}

func TestAcquireSlotLowestClearBit(t *testing.T) {
	rs := simpleRuleset(t)
	rs.maxThreads = 4

	s0, err := rs.AcquireSlot()
	require.NoError(t, err)
	require.Equal(t, 0, s0)

	s1, err := rs.AcquireSlot()
	require.NoError(t, err)
	require.Equal(t, 1, s1)

	rs.ReleaseSlot(s0)

	s2, err := rs.AcquireSlot()
	require.NoError(t, err)
	require.Equal(t, 0, s2, "released slot 0 should be reused before allocating slot 2")
}

func TestAcquireSlotExhaustion(t *testing.T) {
	rs := simpleRuleset(t)
	rs.maxThreads = 2

	_, err := rs.AcquireSlot()
	require.NoError(t, err)
	_, err = rs.AcquireSlot()
	require.NoError(t, err)

	_, err = rs.AcquireSlot()
	require.ErrorIs(t, err, yaraerr.ErrTooManyScanThreads)
}

func TestDefineVariables(t *testing.T) {
	b := NewBuilder()
	ns := b.AddNamespace("default")
	ruleIdx, err := b.AddRule("r", ns, 0)
	require.NoError(t, err)
	_, err = b.AddString(ruleIdx, "$a", []byte("x"), 0, nil)
	require.NoError(t, err)
	b.DefineIntegerVariable("file_size", 0)
	b.DefineStringVariable("file_name", "")
	rs, err := b.Build()
	require.NoError(t, err)

	require.NoError(t, rs.DefineIntegerVariable("file_size", 4096))
	require.NoError(t, rs.DefineStringVariable("file_name", "sample.bin"))
	require.ErrorIs(t, rs.DefineIntegerVariable("nope", 1), yaraerr.ErrInvalidArgument)

	require.Equal(t, int64(4096), rs.externals[0].IntValue)
	require.Equal(t, "sample.bin", rs.externals[1].StringValue)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	rs := simpleRuleset(t)

	var buf bytes.Buffer
	require.NoError(t, rs.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)

	require.Len(t, loaded.Rules(), 1)
	require.Equal(t, "has_foo", loaded.Rules()[0].ID)
	require.Same(t, &loaded.Namespaces()[0], loaded.Rules()[0].Namespace)
	require.Len(t, loaded.Strings(), 1)
	require.Equal(t, "foo", string(loaded.Strings()[0].Pattern))
}

func TestLoadRejectsCorruptStream(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("garbage")))
	require.Error(t, err)
}
