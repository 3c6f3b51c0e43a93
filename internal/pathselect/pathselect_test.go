package pathselect

import (
	"testing"

	"github.com/relaymesh/relayd/internal/channelgraph"
	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
	"github.com/stretchr/testify/require"
)

type fakeQoS struct {
	connected map[channelgraph.Address]bool
	scores    map[channelgraph.Address]float64
}

func (f *fakeQoS) Connected(a channelgraph.Address) bool { return f.connected[a] }
func (f *fakeQoS) Score(a channelgraph.Address) float64  { return f.scores[a] }

func addr(b byte) channelgraph.Address {
	var a channelgraph.Address
	a[0] = b
	return a
}

func addChannel(g *channelgraph.Graph, src, dst channelgraph.Address, balance uint64) {
	ch := &channelgraph.Channel{
		Source:      src,
		Destination: dst,
		Balance:     ticket.AmountFromUint64(balance),
		Status:      channelgraph.StatusOpen,
	}
	g.Upsert(ch.ID(), ch)
}

func TestSelectPathsFindsTwoHopRoute(t *testing.T) {
	self, mid, dst := addr(1), addr(2), addr(3)

	g := channelgraph.New()
	addChannel(g, self, mid, 100)
	addChannel(g, mid, dst, 100)

	qos := &fakeQoS{
		connected: map[channelgraph.Address]bool{self: true, mid: true, dst: true},
		scores:    map[channelgraph.Address]float64{self: 1, mid: 1, dst: 1},
	}

	sel := New(g, qos)
	paths, err := sel.SelectPaths(self, dst, 2, 3)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, []channelgraph.Address{mid, dst}, paths[0].Hops)
}

func TestSelectPathsRejectsZeroScoreEndpoint(t *testing.T) {
	self, mid, dst := addr(1), addr(2), addr(3)

	g := channelgraph.New()
	addChannel(g, self, mid, 100)
	addChannel(g, mid, dst, 100)

	qos := &fakeQoS{
		connected: map[channelgraph.Address]bool{self: true, mid: true, dst: true},
		scores:    map[channelgraph.Address]float64{self: 1, mid: 1, dst: 0},
	}

	sel := New(g, qos)
	_, err := sel.SelectPaths(self, dst, 2, 3)
	require.Error(t, err)
}

func TestSelectPathsRejectsZeroBalanceLastEdge(t *testing.T) {
	self, mid, dst := addr(1), addr(2), addr(3)

	g := channelgraph.New()
	addChannel(g, self, mid, 100)
	addChannel(g, mid, dst, 0)

	qos := &fakeQoS{
		connected: map[channelgraph.Address]bool{self: true, mid: true, dst: true},
		scores:    map[channelgraph.Address]float64{self: 1, mid: 1, dst: 1},
	}

	sel := New(g, qos)
	_, err := sel.SelectPaths(self, dst, 2, 3)
	require.Error(t, err)
}

func TestLoopbackReturnsToSelf(t *testing.T) {
	self, mid := addr(1), addr(2)

	g := channelgraph.New()
	addChannel(g, self, mid, 100)
	addChannel(g, mid, self, 100)

	qos := &fakeQoS{
		connected: map[channelgraph.Address]bool{self: true, mid: true},
		scores:    map[channelgraph.Address]float64{self: 1, mid: 1},
	}

	sel := New(g, qos)
	paths, err := sel.Loopback(self, 2, 3)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, []channelgraph.Address{mid, self}, paths[0].Hops)
}
