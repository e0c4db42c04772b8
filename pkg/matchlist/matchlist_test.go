package matchlist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddReportsFirstMatch(t *testing.T) {
	st := New(2, 0)

	first, err := st.Add(0, Match{Offset: 10, Length: 3})
	require.NoError(t, err)
	require.True(t, first)

	first, err = st.Add(0, Match{Offset: 20, Length: 3})
	require.NoError(t, err)
	require.False(t, first)

	require.Equal(t, 2, st.Count(0))
	require.Equal(t, 0, st.Count(1))
}

func TestAddEnforcesPerStringCap(t *testing.T) {
	st := New(1, 2)

	_, err := st.Add(0, Match{Offset: 0, Length: 1})
	require.NoError(t, err)
	_, err = st.Add(0, Match{Offset: 1, Length: 1})
	require.NoError(t, err)

	_, err = st.Add(0, Match{Offset: 2, Length: 1})
	require.Error(t, err)
	require.Equal(t, 2, st.Count(0))

	// Further adds keep failing and don't grow the list.
	_, err = st.Add(0, Match{Offset: 3, Length: 1})
	require.Error(t, err)
	require.Equal(t, 2, st.Count(0))
}

func TestClearResetsAllLists(t *testing.T) {
	st := New(2, 0)
	_, _ = st.Add(0, Match{Offset: 0, Length: 1})
	_, _ = st.Add(1, Match{Offset: 0, Length: 1})

	st.Clear()

	require.False(t, st.HasMatch(0))
	require.False(t, st.HasMatch(1))
	require.Zero(t, st.Count(0))
}

func TestClearRecoversFromTooManyMatches(t *testing.T) {
	st := New(1, 1)
	_, err := st.Add(0, Match{Offset: 0, Length: 1})
	require.NoError(t, err)
	_, err = st.Add(0, Match{Offset: 1, Length: 1})
	require.Error(t, err)

	st.Clear()

	first, err := st.Add(0, Match{Offset: 0, Length: 1})
	require.NoError(t, err)
	require.True(t, first)
}
