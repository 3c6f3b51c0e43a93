// Package packet implements the Packet Processor: the per-hop state
// machine that unwraps one onion layer, classifies the result, validates
// and accounts any attached ticket, and emits exactly one of Final,
// Forwarded, or Acknowledgement.
package packet

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/relaymesh/relayd/internal/channelgraph"
	"github.com/relaymesh/relayd/internal/onion"
	"github.com/relaymesh/relayd/internal/replay"
	"github.com/relaymesh/relayd/internal/ticketcore/index"
	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
	"github.com/relaymesh/relayd/internal/ticketcore/validator"
	"github.com/relaymesh/relayd/internal/wire"
)

// OutcomeKind distinguishes the three possible results of processing one
// packet.
type OutcomeKind int

const (
	// OutcomeFinal means this node is the packet's destination.
	OutcomeFinal OutcomeKind = iota

	// OutcomeForwarded means the packet was validated and re-encoded for
	// the next hop.
	OutcomeForwarded

	// OutcomeAcknowledgement means the wire packet was an ack packet
	// rather than a payload packet.
	OutcomeAcknowledgement
)

// Outcome is the result of Process.
type Outcome struct {
	Kind OutcomeKind

	PacketTag   [16]byte
	PreviousHop *btcec.PublicKey

	// Final fields.
	SenderPseudonym []byte
	Plaintext       []byte
	AckKey          [32]byte
	NumSURBs        int
	PacketSignals   uint32

	// Forwarded fields.
	NextHop         *btcec.PublicKey
	NextPacketBytes []byte

	// NextHopTicket is the newly-issued ticket for (self -> NextHop),
	// drawn from the Ticket Index Tracker, to be delivered to NextHop
	// alongside NextPacketBytes.
	NextHopTicket *ticket.Ticket

	// Acknowledgement fields.
	Ack *ticket.Acknowledgement
}

// UnackResolver is the subset of the Acknowledgement Resolver's surface the
// Packet Processor depends on: caching a newly-validated ticket.
type UnackResolver interface {
	InsertUnacknowledged(t *ticket.Ticket, ownShare ticket.HalfKeyShare)
}

// AddressResolver maps an offchain packet-routing public key to the
// corresponding onchain settlement address, and back.
type AddressResolver interface {
	OnchainAddress(offchainPK *btcec.PublicKey) (channelgraph.Address, error)
	OffchainPubKey(addr channelgraph.Address) (*btcec.PublicKey, bool)
}

// Config bundles the Packet Processor's dependencies.
type Config struct {
	Onion        *onion.Processor
	ReplayFilter *replay.Filter
	Graph        *channelgraph.Graph
	Tracker      *index.Tracker
	UnackCache   UnackResolver
	Addresses    AddressResolver
	Self         channelgraph.Address

	MinAmount       ticket.Amount
	MinWinProb      float64
	DomainSeparator []byte

	// SigningKey signs every ticket this node mints for the next hop
	// when forwarding.
	SigningKey *btcec.PrivateKey

	// OutgoingAmount and OutgoingWinProb parameterize the tickets this
	// node issues to the next hop on every forwarded packet.
	OutgoingAmount  ticket.Amount
	OutgoingWinProb float64
}

// Processor is the per-node instance of the Packet Processor.
type Processor struct {
	cfg Config
}

// New constructs a Processor from cfg.
func New(cfg Config) *Processor {
	return &Processor{cfg: cfg}
}

// ErrReplay is returned when a packet's tag has already been observed.
type ErrReplay struct{ Tag [16]byte }

func (e *ErrReplay) Error() string { return fmt.Sprintf("replayed packet tag %x", e.Tag) }

// ErrUnknownPreviousHop is returned when no channel exists from
// previousHop to this node.
type ErrUnknownPreviousHop struct{}

func (*ErrUnknownPreviousHop) Error() string { return "unknown previous hop: no channel found" }

// A wire packet's first byte is the wire.Kind header: acknowledgement
// packets carry wire.KindAcknowledgement; both payload kinds go to onion
// unwrapping, which tells forward from final.
const (
	bodyKindPayload = byte(wire.KindPayloadForward)
	bodyKindAck     = byte(wire.KindAcknowledgement)
)

// Process consumes one wire packet plus the previous hop's offchain public
// key and produces exactly one Outcome.
func (p *Processor) Process(ctx context.Context, previousHop *btcec.PublicKey, wirePacket []byte, previousHopTicket *ticket.Ticket, ownShare ticket.HalfKeyShare) (*Outcome, error) {
	if len(wirePacket) < 1 {
		return nil, fmt.Errorf("packet: empty wire packet")
	}

	kind := wirePacket[0]
	body := wirePacket[1:]

	if kind == bodyKindAck {
		return p.processAck(previousHop, body)
	}

	return p.processPayload(ctx, previousHop, body, previousHopTicket, ownShare)
}

func (p *Processor) processAck(previousHop *btcec.PublicKey, body []byte) (*Outcome, error) {
	if len(body) != ticket.HalfKeyShareSize+ticket.SignatureSize {
		return nil, fmt.Errorf("packet: malformed ack body")
	}

	var ack ticket.Acknowledgement
	copy(ack.PeerShare[:], body[:ticket.HalfKeyShareSize])
	copy(ack.Signature[:], body[ticket.HalfKeyShareSize:])

	return &Outcome{
		Kind:        OutcomeAcknowledgement,
		PreviousHop: previousHop,
		Ack:         &ack,
	}, nil
}

func (p *Processor) processPayload(ctx context.Context, previousHop *btcec.PublicKey, body []byte, previousHopTicket *ticket.Ticket, ownShare ticket.HalfKeyShare) (*Outcome, error) {
	unwrapped, err := p.cfg.Onion.Unwrap(body, previousHop.SerializeCompressed())
	if err != nil {
		return nil, fmt.Errorf("packet: onion unwrap: %w", err)
	}

	if p.cfg.ReplayFilter.CheckAndSet(replay.Tag(unwrapped.PacketTag)) {
		return nil, &ErrReplay{Tag: unwrapped.PacketTag}
	}

	switch unwrapped.Action {
	case onion.ActionFinal:
		header, payload, err := wire.DecodeFinalHeader(unwrapped.Plaintext)
		if err != nil {
			return nil, fmt.Errorf("packet: decode final header: %w", err)
		}

		return &Outcome{
			Kind:          OutcomeFinal,
			PacketTag:     unwrapped.PacketTag,
			PreviousHop:   previousHop,
			Plaintext:     payload,
			AckKey:        unwrapped.AckKey,
			NumSURBs:      int(header.NumSURBs),
			PacketSignals: header.PacketSignals,
		}, nil

	case onion.ActionForward:
		if err := p.validateAndCacheTicket(ctx, previousHop, previousHopTicket, ownShare); err != nil {
			return nil, err
		}

		nextHopPub, outTicket, err := p.mintOutgoingTicket(ctx, unwrapped.NextHopAddress, unwrapped.NextHopEphemeral)
		if err != nil {
			return nil, err
		}

		return &Outcome{
			Kind:            OutcomeForwarded,
			PacketTag:       unwrapped.PacketTag,
			PreviousHop:     previousHop,
			NextHop:         nextHopPub,
			NextPacketBytes: unwrapped.NextPacketBytes,
			NextHopTicket:   outTicket,
			AckKey:          unwrapped.AckKey,
		}, nil

	default:
		return nil, fmt.Errorf("packet: unknown onion action")
	}
}

func (p *Processor) validateAndCacheTicket(ctx context.Context, previousHop *btcec.PublicKey, t *ticket.Ticket, ownShare ticket.HalfKeyShare) error {
	if t == nil {
		return fmt.Errorf("packet: forwarded packet missing ticket")
	}

	srcAddr, err := p.cfg.Addresses.OnchainAddress(previousHop)
	if err != nil {
		return &ErrUnknownPreviousHop{}
	}

	ch, ok := p.cfg.Graph.LookupByEndpoints(srcAddr, p.cfg.Self)
	if !ok {
		return &ErrUnknownPreviousHop{}
	}

	accumulated, err := p.cfg.Tracker.IncomingChannelUnrealizedBalance(ctx, ch.ID(), ch.Epoch)
	if err != nil {
		return fmt.Errorf("packet: load unrealized balance: %w", err)
	}

	headroom := ch.Balance.Sub(accumulated)

	issuerPubKey := previousHop

	if _, err := validator.Validate(
		t, ch, issuerPubKey, p.cfg.MinAmount, p.cfg.MinWinProb, headroom, p.cfg.DomainSeparator,
	); err != nil {
		return err
	}

	p.cfg.UnackCache.InsertUnacknowledged(t, ownShare)
	return nil
}

// mintOutgoingTicket issues and signs the ticket this node owes the next
// hop for continuing to relay, drawing its index from the Ticket Index
// Tracker. The challenge commits to a freshly generated issuer share
// combined with the next hop's ack-key share, which this node can already
// derive from the outgoing packet's ephemeral key per onion.DeriveAckKey.
func (p *Processor) mintOutgoingTicket(ctx context.Context, nextHopAddr [20]byte, nextHopEphemeral *btcec.PublicKey) (*btcec.PublicKey, *ticket.Ticket, error) {
	addr := channelgraph.Address(nextHopAddr)

	nextHopPub, ok := p.cfg.Addresses.OffchainPubKey(addr)
	if !ok {
		return nil, nil, fmt.Errorf("packet: unknown next hop address")
	}

	ch, ok := p.cfg.Graph.LookupByEndpoints(p.cfg.Self, addr)
	if !ok {
		return nil, nil, fmt.Errorf("packet: no outgoing channel to next hop")
	}

	idx, err := p.cfg.Tracker.NextOutgoingTicketIndex(ctx, ch.ID(), ch.Epoch)
	if err != nil {
		return nil, nil, fmt.Errorf("packet: next outgoing ticket index: %w", err)
	}

	issuerShare, err := randomHalfKeyShare()
	if err != nil {
		return nil, nil, fmt.Errorf("packet: generate issuer half-key share: %w", err)
	}

	relayShare := ticket.HalfKeyShare(onion.DeriveAckKey(nextHopEphemeral))

	t := &ticket.Ticket{
		ChannelID:      ch.ID(),
		Amount:         p.cfg.OutgoingAmount,
		Index:          idx,
		IndexOffset:    1,
		EncodedWinProb: ticket.EncodeWinProb(p.cfg.OutgoingWinProb),
		ChannelEpoch:   ch.Epoch,
		Challenge:      issuerShare.Combine(relayShare).ToChallenge(),
	}
	t.Sign(p.cfg.SigningKey, p.cfg.DomainSeparator)

	return nextHopPub, t, nil
}

// randomHalfKeyShare draws a fresh issuer half-key share.
func randomHalfKeyShare() (ticket.HalfKeyShare, error) {
	var s ticket.HalfKeyShare
	_, err := rand.Read(s[:])
	return s, err
}
