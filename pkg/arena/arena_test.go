package arena

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateAndRead(t *testing.T) {
	a := New(16) // tiny chunk size to force multiple chunks

	refs := make([]Ref, 0, 10)
	for i := 0; i < 10; i++ {
		ref, buf, err := a.Allocate(8)
		require.NoError(t, err)
		binary.LittleEndian.PutUint64(buf, uint64(i))
		refs = append(refs, ref)
	}

	for i, ref := range refs {
		buf, err := a.At(ref, 8)
		require.NoError(t, err)
		require.Equal(t, uint64(i), binary.LittleEndian.Uint64(buf))
	}
}

func TestNextAddressWalksAcrossChunks(t *testing.T) {
	a := New(16)
	const stride = 8
	const n = 20

	first, _, err := a.Allocate(stride)
	require.NoError(t, err)
	for i := 1; i < n; i++ {
		_, _, err := a.Allocate(stride)
		require.NoError(t, err)
	}

	count := 1
	ref := first
	for {
		next := a.NextAddress(ref, stride)
		if next == NilRef {
			break
		}
		ref = next
		count++
	}
	require.Equal(t, n, count)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	a := New(32)
	ref1, buf1, err := a.Allocate(10)
	require.NoError(t, err)
	copy(buf1, []byte("0123456789"))

	ref2, buf2, err := a.Allocate(5)
	require.NoError(t, err)
	copy(buf2, []byte("abcde"))

	var out bytes.Buffer
	require.NoError(t, a.Save(&out))

	loaded, err := Load(&out)
	require.NoError(t, err)
	require.Equal(t, a.Size(), loaded.Size())

	got1, err := loaded.At(ref1, 10)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(got1))

	got2, err := loaded.At(ref2, 5)
	require.NoError(t, err)
	require.Equal(t, "abcde", string(got2))
}

func TestLoadRejectsCorruptStream(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not an arena")))
	require.Error(t, err)
}

func TestAtOutOfBoundsErrors(t *testing.T) {
	a := New(16)
	_, err := a.At(1000, 4)
	require.Error(t, err)
}
