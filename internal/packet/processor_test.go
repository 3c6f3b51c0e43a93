package packet

import (
	"context"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/relaymesh/relayd/internal/channelgraph"
	"github.com/relaymesh/relayd/internal/keystore"
	"github.com/relaymesh/relayd/internal/ticketcore/index"
	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
	"github.com/stretchr/testify/require"
)

type fakeIndexStore struct {
	mu sync.Mutex
}

func (s *fakeIndexStore) GetOrCreateOutgoingTicketIndex(_ context.Context, _ ticket.ChannelID, _ uint32) (uint64, error) {
	return 0, nil
}

func (s *fakeIndexStore) GetTicketsValue(_ context.Context, _ ticket.ChannelID, _ uint32) (ticket.Amount, error) {
	return ticket.Amount{}, nil
}

func (s *fakeIndexStore) UpdateOutgoingTicketIndex(_ context.Context, _ ticket.ChannelID, _ uint32, _ uint64) error {
	return nil
}

func TestProcessClassifiesAckPacket(t *testing.T) {
	p := New(Config{})

	previousHop, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var ack ticket.Acknowledgement
	ack.Sign(previousHop)

	body := make([]byte, 0, 1+ticket.HalfKeyShareSize+ticket.SignatureSize)
	body = append(body, bodyKindAck)
	body = append(body, ack.PeerShare[:]...)
	body = append(body, ack.Signature[:]...)

	outcome, err := p.Process(context.Background(), previousHop.PubKey(), body, nil, ticket.HalfKeyShare{})
	require.NoError(t, err)
	require.Equal(t, OutcomeAcknowledgement, outcome.Kind)
	require.Equal(t, ack.PeerShare, outcome.Ack.PeerShare)
	require.Equal(t, ack.Signature, outcome.Ack.Signature)
}

func TestProcessRejectsEmptyPacket(t *testing.T) {
	p := New(Config{})

	previousHop, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	_, err = p.Process(context.Background(), previousHop.PubKey(), nil, nil, ticket.HalfKeyShare{})
	require.Error(t, err)
}

func TestProcessRejectsMalformedAckBody(t *testing.T) {
	p := New(Config{})

	previousHop, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	body := []byte{bodyKindAck, 1, 2, 3}

	_, err = p.Process(context.Background(), previousHop.PubKey(), body, nil, ticket.HalfKeyShare{})
	require.Error(t, err)
}

func TestMintOutgoingTicketIssuesSignedTicketForNextHop(t *testing.T) {
	self, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	nextHop, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	nextHopEphemeral, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	selfAddr := keystore.AddressFromPubKey(self.PubKey())
	nextHopAddr := keystore.AddressFromPubKey(nextHop.PubKey())

	peers := keystore.NewDirectory()
	peers.Learn(nextHop.PubKey(), nextHopAddr)

	graph := channelgraph.New()
	ch := &channelgraph.Channel{
		Source:      selfAddr,
		Destination: nextHopAddr,
		Balance:     ticket.AmountFromUint64(1_000),
		Epoch:       1,
		Status:      channelgraph.StatusOpen,
	}
	graph.Upsert(ch.ID(), ch)

	domainSeparator := []byte("test-domain")

	p := New(Config{
		Graph:           graph,
		Tracker:         index.New(&fakeIndexStore{}),
		Addresses:       peers,
		Self:            selfAddr,
		DomainSeparator: domainSeparator,
		SigningKey:      self,
		OutgoingAmount:  ticket.AmountFromUint64(7),
		OutgoingWinProb: 0.5,
	})

	var addrBytes [20]byte
	copy(addrBytes[:], nextHopAddr[:])

	nextHopPub, outTicket, err := p.mintOutgoingTicket(context.Background(), addrBytes, nextHopEphemeral.PubKey())
	require.NoError(t, err)
	require.True(t, nextHop.PubKey().IsEqual(nextHopPub))

	require.Equal(t, ch.ID(), outTicket.ChannelID)
	require.Equal(t, uint64(0), outTicket.Index)
	require.Equal(t, ticket.AmountFromUint64(7), outTicket.Amount)
	require.Equal(t, uint32(1), outTicket.ChannelEpoch)
	require.True(t, outTicket.VerifySignature(self.PubKey(), domainSeparator))

	// A second mint on the same channel/epoch must draw the next index.
	_, secondTicket, err := p.mintOutgoingTicket(context.Background(), addrBytes, nextHopEphemeral.PubKey())
	require.NoError(t, err)
	require.Equal(t, uint64(1), secondTicket.Index)
}

func TestMintOutgoingTicketRejectsUnknownNextHop(t *testing.T) {
	self, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	p := New(Config{
		Graph:     channelgraph.New(),
		Tracker:   index.New(&fakeIndexStore{}),
		Addresses: keystore.NewDirectory(),
		Self:      keystore.AddressFromPubKey(self.PubKey()),
	})

	var unknown [20]byte
	unknown[0] = 0xEE

	_, _, err = p.mintOutgoingTicket(context.Background(), unknown, self.PubKey())
	require.Error(t, err)
}
