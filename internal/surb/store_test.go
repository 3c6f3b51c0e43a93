package surb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushAndPopOneFIFO(t *testing.T) {
	s := New(500)

	var p Pseudonym
	p[0] = 1

	var id1, id2 ID
	id1[0], id2[0] = 1, 2

	n := s.Push(p, []Entry{{ID: id1, SURB: []byte("a")}, {ID: id2, SURB: []byte("b")}})
	require.Equal(t, 2, n)

	popped, ok := s.PopOne(p)
	require.True(t, ok)
	require.Equal(t, id1, popped.ID)
	require.Equal(t, 1, popped.RemainingLen)
}

func TestPushEvictsOldestOnOverflow(t *testing.T) {
	s := New(2)

	var p Pseudonym
	p[0] = 1

	var id1, id2, id3 ID
	id1[0], id2[0], id3[0] = 1, 2, 3

	s.Push(p, []Entry{{ID: id1}, {ID: id2}})
	n := s.Push(p, []Entry{{ID: id3}})
	require.Equal(t, 2, n)

	popped, ok := s.PopOne(p)
	require.True(t, ok)
	require.Equal(t, id2, popped.ID, "oldest entry should have been evicted")
}

func TestPopOneIfHasIDMatchesAndSkipsOthers(t *testing.T) {
	s := New(500)

	var p Pseudonym
	p[0] = 1

	var id1, id2 ID
	id1[0], id2[0] = 1, 2
	s.Push(p, []Entry{{ID: id1}, {ID: id2}})

	popped, ok := s.PopOneIfHasID(p, id2)
	require.True(t, ok)
	require.Equal(t, id2, popped.ID)
	require.Equal(t, 1, popped.RemainingLen)

	_, ok = s.PopOneIfHasID(p, id2)
	require.False(t, ok)
}

func TestFindSURBAcrossPseudonyms(t *testing.T) {
	s := New(500)

	var p1, p2 Pseudonym
	p1[0], p2[0] = 1, 2

	var id ID
	id[0] = 9
	s.Push(p2, []Entry{{ID: id, SURB: []byte("x")}})

	found, ok := s.FindSURB(SenderID{Pseudonym: p1, SURBID: id})
	require.False(t, ok)

	found, ok = s.FindSURB(SenderID{Pseudonym: p2, SURBID: id})
	require.True(t, ok)
	require.Equal(t, []byte("x"), found.SURB)
	require.Equal(t, 1, found.RemainingLen)
}
