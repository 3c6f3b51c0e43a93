package replay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckAndSetDetectsReplay(t *testing.T) {
	f := New()

	var tag Tag
	tag[0] = 1

	require.False(t, f.CheckAndSet(tag), "first observation must not be flagged as replay")
	require.True(t, f.CheckAndSet(tag), "second observation must be flagged as replay")
}

func TestCheckAndSetDistinguishesTags(t *testing.T) {
	f := New()

	var a, b Tag
	a[0], b[0] = 1, 2

	require.False(t, f.CheckAndSet(a))
	require.False(t, f.CheckAndSet(b))
}

func TestDumpLoadRoundTrip(t *testing.T) {
	f := New()

	var tag Tag
	tag[0] = 7
	f.CheckAndSet(tag)

	data, err := f.Dump()
	require.NoError(t, err)

	loaded := New()
	require.NoError(t, loaded.Load(data))

	require.True(t, loaded.CheckAndSet(tag), "restored filter must still recognize the tag")
}
