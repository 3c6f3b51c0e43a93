// Package onion adapts the Sphinx onion packet primitive — treated as a
// black box with a stated contract — into the shape the Packet Processor
// needs: unwrap one layer, learn whether we are the final hop or must
// forward, and derive the packet tag and ack half-key revealed to the
// previous hop.
package onion

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	sphinx "github.com/lightningnetwork/lightning-onion"
	"golang.org/x/crypto/sha3"
)

// Action classifies the outcome of unwrapping one onion layer.
type Action int

const (
	// ActionForward means another hop remains; NextPacketBytes holds the
	// packet to emit towards it.
	ActionForward Action = iota

	// ActionFinal means this node is the packet's destination.
	ActionFinal
)

// nextHopAddressSize is the length of the onchain address a forwarding
// hop's per-hop payload carries, matching channelgraph.Address's width.
const nextHopAddressSize = 20

// Unwrapped is the result of peeling one onion layer.
type Unwrapped struct {
	Action Action

	// PacketTag uniquely identifies this packet instance for replay
	// detection, derived from the layer's ephemeral key.
	PacketTag [16]byte

	// AckKey is the half-key revealed to the previous hop so it can
	// resolve the ticket it issued to us, derived from the layer's
	// ephemeral key.
	AckKey [32]byte

	// Plaintext is populated when Action == ActionFinal.
	Plaintext []byte

	// NextPacketBytes is populated when Action == ActionForward: the
	// onion packet to hand to the next hop.
	NextPacketBytes []byte

	// NextHopAddress is populated when Action == ActionForward: the
	// onchain settlement address of the next hop, carried in this
	// layer's per-hop payload.
	NextHopAddress [20]byte

	// NextHopEphemeral is populated when Action == ActionForward: the
	// ephemeral key of the packet handed to the next hop, from which
	// that hop's ack key can be derived ahead of time.
	NextHopEphemeral *btcec.PublicKey
}

// Processor wraps a sphinx.Router, the sole component that understands the
// onion wire format and per-hop shared-secret derivation.
type Processor struct {
	router *sphinx.Router
}

// NewProcessor constructs a Processor around an already-configured sphinx
// router.
func NewProcessor(router *sphinx.Router) *Processor {
	return &Processor{router: router}
}

// Start brings up the underlying sphinx router, including its replay log.
func (p *Processor) Start() error {
	return p.router.Start()
}

// Stop shuts the underlying sphinx router down.
func (p *Processor) Stop() error {
	p.router.Stop()
	return nil
}

// Unwrap decodes one onion packet addressed to us, using associatedData
// (e.g. the session's pseudonym) as replay-detection associated data.
func (p *Processor) Unwrap(onionBytes []byte, associatedData []byte) (*Unwrapped, error) {
	onionPkt := &sphinx.OnionPacket{}
	if err := onionPkt.Decode(bytes.NewReader(onionBytes)); err != nil {
		return nil, fmt.Errorf("onion: decode packet: %w", err)
	}

	processed, err := p.router.ReconstructOnionPacket(onionPkt, associatedData)
	if err != nil {
		return nil, fmt.Errorf("onion: reconstruct: %w", err)
	}

	tag := derivePacketTag(onionPkt.EphemeralKey)
	ackKey := DeriveAckKey(onionPkt.EphemeralKey)

	out := &Unwrapped{
		PacketTag: tag,
		AckKey:    ackKey,
	}

	switch processed.Action {
	case sphinx.ExitNode:
		out.Action = ActionFinal
		out.Plaintext = processed.Payload.Payload

	case sphinx.MoreHops:
		out.Action = ActionForward

		if len(processed.Payload.Payload) < nextHopAddressSize {
			return nil, fmt.Errorf("onion: forward payload missing next-hop address")
		}
		copy(out.NextHopAddress[:], processed.Payload.Payload[:nextHopAddressSize])
		out.NextHopEphemeral = processed.NextPacket.EphemeralKey

		var buf bytes.Buffer
		if err := processed.NextPacket.Encode(&buf); err != nil {
			return nil, fmt.Errorf("onion: encode next packet: %w", err)
		}
		out.NextPacketBytes = buf.Bytes()

	default:
		return nil, fmt.Errorf("onion: unknown sphinx action %v", processed.Action)
	}

	return out, nil
}

// derivePacketTag hashes the layer's ephemeral public key into the 128-bit
// tag used for replay detection; distinct packet instances produce
// distinct ephemeral keys by construction of the Sphinx primitive.
func derivePacketTag(ephemeral *btcec.PublicKey) [16]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(ephemeral.SerializeCompressed())
	h.Write([]byte("packet-tag"))

	var digest [32]byte
	h.Sum(digest[:0])

	var tag [16]byte
	copy(tag[:], digest[:16])
	return tag
}

// DeriveAckKey derives the half-key a hop reveals to whoever encrypted its
// layer, from that layer's ephemeral key. It is exported so a forwarding
// hop can precompute the next hop's ack key — and thus the challenge for a
// ticket it mints for that hop — before the next hop has processed
// anything, since the ephemeral key is already known once NextPacket is
// encoded.
func DeriveAckKey(ephemeral *btcec.PublicKey) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(ephemeral.SerializeCompressed())
	h.Write([]byte("ack-key"))

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// WriteOnionPacket is a helper exposed for constructing outgoing packets in
// tests and in the Packet Processor's forward path.
func WriteOnionPacket(w io.Writer, pkt *sphinx.OnionPacket) error {
	return pkt.Encode(w)
}
