package submatcher

import (
	"testing"

	"github.com/scanforge/yaracore/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestVerifyPlainLiteral(t *testing.T) {
	v, err := New(nil)
	require.NoError(t, err)

	s := &types.StringDef{ID: 0, Name: "$a", Pattern: []byte("foo")}
	m, err := v.Verify(s, []byte("xfoox"), 1, 3)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.EqualValues(t, 1, m.Offset)
	require.Equal(t, 3, m.Length)
}

func TestVerifyFullWordRejectsEmbedded(t *testing.T) {
	v, err := New(nil)
	require.NoError(t, err)

	s := &types.StringDef{ID: 0, Name: "$a", Pattern: []byte("foo"), Flags: types.StringFullWord}

	m, err := v.Verify(s, []byte("xfoox"), 1, 3)
	require.NoError(t, err)
	require.Nil(t, m, "foo embedded in xfoox is not a full word")

	m, err = v.Verify(s, []byte("x foo x"), 2, 3)
	require.NoError(t, err)
	require.NotNil(t, m, "foo surrounded by spaces is a full word")
}

func TestVerifyAnchoredAt(t *testing.T) {
	v, err := New(nil)
	require.NoError(t, err)

	s := &types.StringDef{ID: 0, Name: "$a", Pattern: []byte("MZ"), Flags: types.StringAnchoredAt, AnchorOffset: 0}

	m, err := v.Verify(s, []byte("MZxyz"), 0, 2)
	require.NoError(t, err)
	require.NotNil(t, m)

	m, err = v.Verify(s, []byte("xMZyz"), 1, 2)
	require.NoError(t, err)
	require.Nil(t, m, "MZ at offset 1 violates AnchoredAt(0)")
}

func TestVerifyAnchoredIn(t *testing.T) {
	v, err := New(nil)
	require.NoError(t, err)

	s := &types.StringDef{
		ID: 0, Name: "$a", Pattern: []byte("AB"),
		Flags: types.StringAnchoredIn, AnchorRangeStart: 2, AnchorRangeEnd: 4,
	}

	m, err := v.Verify(s, []byte("xxABxx"), 2, 2)
	require.NoError(t, err)
	require.NotNil(t, m)

	m, err = v.Verify(s, []byte("ABxxxx"), 0, 2)
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestVerifyRegexTailConfirmsAtOffset(t *testing.T) {
	s := types.StringDef{ID: 0, Name: "$a", Pattern: []byte(`[0-9]{3}-[0-9]{4}`), Flags: types.StringRegexp}
	v, err := New([]types.StringDef{s})
	require.NoError(t, err)

	m, err := v.Verify(&s, []byte("call 555-1234 now"), 5, 0)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.EqualValues(t, 5, m.Offset)
	require.Equal(t, 8, m.Length)
}

func TestVerifyRegexTailRejectsNonMatch(t *testing.T) {
	s := types.StringDef{ID: 0, Name: "$a", Pattern: []byte(`[0-9]{3}-[0-9]{4}`), Flags: types.StringRegexp}
	v, err := New([]types.StringDef{s})
	require.NoError(t, err)

	m, err := v.Verify(&s, []byte("no digits here"), 0, 0)
	require.NoError(t, err)
	require.Nil(t, m)
}
