package channelgraph

import (
	"testing"

	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
	"github.com/stretchr/testify/require"
)

func TestChannelIDDirectionSensitive(t *testing.T) {
	var a, b Address
	a[0] = 1
	b[0] = 2

	ab := ChannelID(a, b)
	ba := ChannelID(b, a)

	require.NotEqual(t, ab, ba)
	require.Equal(t, ab, ChannelID(a, b))
}

func TestGraphUpsertLookup(t *testing.T) {
	g := New()

	var a, b Address
	a[0], b[0] = 1, 2

	ch := &Channel{
		Source:      a,
		Destination: b,
		Balance:     ticket.AmountFromUint64(100),
		Epoch:       1,
		Status:      StatusOpen,
	}

	g.Upsert(ch.ID(), ch)

	got, ok := g.LookupByEndpoints(a, b)
	require.True(t, ok)
	require.Same(t, ch, got)

	_, ok = g.LookupByEndpoints(b, a)
	require.False(t, ok)
}

func TestGraphSnapshotIsIndependentCopy(t *testing.T) {
	g := New()

	var a, b Address
	a[0], b[0] = 1, 2
	ch := &Channel{Source: a, Destination: b, Status: StatusOpen}
	g.Upsert(ch.ID(), ch)

	snap := g.Snapshot()
	require.Len(t, snap, 1)

	var c Address
	c[0] = 3
	g.Upsert(ChannelID(a, c), &Channel{Source: a, Destination: c, Status: StatusOpen})

	require.Len(t, snap, 1, "snapshot must not observe later writes")
}

func TestStatusAcceptsTickets(t *testing.T) {
	require.True(t, StatusOpen.AcceptsTickets())
	require.True(t, StatusPendingToClose.AcceptsTickets())
	require.False(t, StatusClosed.AcceptsTickets())
}
