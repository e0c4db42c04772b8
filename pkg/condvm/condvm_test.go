package condvm

import (
	"testing"

	"github.com/scanforge/yaracore/pkg/matchlist"
	"github.com/scanforge/yaracore/pkg/scanctx"
	"github.com/scanforge/yaracore/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestEvalStringFoundTrue(t *testing.T) {
	program := Program{
		{Op: OpStringFound, StringID: 0},
		{Op: OpSetMatch},
	}
	vm := New(program)

	ns := &types.Namespace{Index: 0, Name: "default"}
	rule := &types.Rule{Index: 0, Namespace: ns}

	ctx := scanctx.New(1, 1, 1, nil, nil)
	_, _ = ctx.RecordMatch(0, matchlist.Match{Offset: 0, Length: 3})

	result, err := vm.Eval(ctx, rule)
	require.NoError(t, err)
	require.True(t, result)
	require.True(t, ctx.RuleFlags[0])
}

func TestEvalStringFoundFalse(t *testing.T) {
	program := Program{
		{Op: OpStringFound, StringID: 0},
		{Op: OpSetMatch},
	}
	vm := New(program)
	ns := &types.Namespace{Index: 0, Name: "default"}
	rule := &types.Rule{Index: 0, Namespace: ns}
	ctx := scanctx.New(1, 1, 1, nil, nil)

	result, err := vm.Eval(ctx, rule)
	require.NoError(t, err)
	require.False(t, result)
	require.False(t, ctx.RuleFlags[0])
}

func TestEvalAndOfTwoStrings(t *testing.T) {
	program := Program{
		{Op: OpStringFound, StringID: 0},
		{Op: OpStringFound, StringID: 1},
		{Op: OpAnd},
		{Op: OpSetMatch},
	}
	vm := New(program)
	ns := &types.Namespace{Index: 0}
	rule := &types.Rule{Index: 0, Namespace: ns}

	ctx := scanctx.New(1, 1, 2, nil, nil)
	_, _ = ctx.RecordMatch(0, matchlist.Match{Offset: 0, Length: 1})
	result, err := vm.Eval(ctx, rule)
	require.NoError(t, err)
	require.False(t, result, "only $a matched, AND requires both")

	_, _ = ctx.RecordMatch(1, matchlist.Match{Offset: 5, Length: 1})
	result, err = vm.Eval(ctx, rule)
	require.NoError(t, err)
	require.True(t, result)
}

func TestEvalGlobalRuleSuppressesNamespace(t *testing.T) {
	program := Program{
		{Op: OpStringFound, StringID: 0},
		{Op: OpSetMatch},
	}
	vm := New(program)
	ns := &types.Namespace{Index: 0}
	rule := &types.Rule{Index: 0, Namespace: ns, Flags: types.RuleGlobal}

	ctx := scanctx.New(1, 1, 1, nil, nil)
	result, err := vm.Eval(ctx, rule)
	require.NoError(t, err)
	require.False(t, result)
	require.True(t, ctx.UnsatisfiedGlobal[0])
}

func TestEvalStringCountComparison(t *testing.T) {
	program := Program{
		{Op: OpStringCount, StringID: 0},
		{Op: OpPushInt, Int: 2},
		{Op: OpGe},
		{Op: OpSetMatch},
	}
	vm := New(program)
	ns := &types.Namespace{Index: 0}
	rule := &types.Rule{Index: 0, Namespace: ns}

	ctx := scanctx.New(1, 1, 1, nil, nil)
	_, _ = ctx.RecordMatch(0, matchlist.Match{Offset: 0, Length: 1})
	result, err := vm.Eval(ctx, rule)
	require.NoError(t, err)
	require.False(t, result)

	_, _ = ctx.RecordMatch(0, matchlist.Match{Offset: 10, Length: 1})
	result, err = vm.Eval(ctx, rule)
	require.NoError(t, err)
	require.True(t, result)
}

func TestEvalExternalVariable(t *testing.T) {
	program := Program{
		{Op: OpPushExternInt, Str: "file_size"},
		{Op: OpPushInt, Int: 1024},
		{Op: OpGt},
		{Op: OpSetMatch},
	}
	vm := New(program)
	ns := &types.Namespace{Index: 0}
	rule := &types.Rule{Index: 0, Namespace: ns}

	externals := []types.ExternalVariable{{Identifier: "file_size", Type: types.ExternalInteger, IntValue: 2048}}
	ctx := scanctx.New(1, 1, 0, externals, nil)

	result, err := vm.Eval(ctx, rule)
	require.NoError(t, err)
	require.True(t, result)
}

func TestEvalJumpIfFalse(t *testing.T) {
	// if string $a found, push true; else push false -- via branching
	// rather than AND, to exercise OpJmpIfFalse/OpJmp directly.
	program := Program{
		{Op: OpStringFound, StringID: 0},
		{Op: OpJmpIfFalse, Addr: 4},
		{Op: OpPushBool, Bool: true},
		{Op: OpJmp, Addr: 5},
		{Op: OpPushBool, Bool: false},
		{Op: OpSetMatch},
	}
	vm := New(program)
	ns := &types.Namespace{Index: 0}
	rule := &types.Rule{Index: 0, Namespace: ns}
	ctx := scanctx.New(1, 1, 1, nil, nil)

	result, err := vm.Eval(ctx, rule)
	require.NoError(t, err)
	require.False(t, result)

	_, _ = ctx.RecordMatch(0, matchlist.Match{Offset: 0, Length: 1})
	result, err = vm.Eval(ctx, rule)
	require.NoError(t, err)
	require.True(t, result)
}

func TestEvalUndefinedExternalErrors(t *testing.T) {
	program := Program{
		{Op: OpPushExternInt, Str: "nonexistent"},
		{Op: OpSetMatch},
	}
	vm := New(program)
	ns := &types.Namespace{Index: 0}
	rule := &types.Rule{Index: 0, Namespace: ns}
	ctx := scanctx.New(1, 1, 0, nil, nil)

	_, err := vm.Eval(ctx, rule)
	require.Error(t, err)
}
