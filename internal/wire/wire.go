// Package wire defines the outermost framing shared by every packet kind
// on the wire, per spec §6: "Three top-level kinds share a fixed header
// byte for disambiguation: payload-forward, payload-final,
// acknowledgement." SURB counts and packet signal bits are carried in a
// small fixed header prefixed to a Final packet's plaintext.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Kind is the outermost packet-kind header byte.
type Kind byte

const (
	KindPayloadForward  Kind = 0x00
	KindPayloadFinal    Kind = 0x01
	KindAcknowledgement Kind = 0x02
)

// finalHeaderSize is the fixed prefix on a Final packet's plaintext:
// 2 bytes num_surbs, 4 bytes packet_signals.
const finalHeaderSize = 6

// FinalHeader carries the per-packet SURB count and signal bits that
// accompany a destination-bound payload, declared in a dedicated header
// field ahead of the application plaintext.
type FinalHeader struct {
	NumSURBs      uint16
	PacketSignals uint32
}

// Encode prepends the header to plaintext.
func (h FinalHeader) Encode(plaintext []byte) []byte {
	out := make([]byte, finalHeaderSize+len(plaintext))
	binary.BigEndian.PutUint16(out[0:2], h.NumSURBs)
	binary.BigEndian.PutUint32(out[2:6], h.PacketSignals)
	copy(out[finalHeaderSize:], plaintext)
	return out
}

// DecodeFinalHeader splits a Final packet's raw plaintext into its header
// and the application payload that follows it.
func DecodeFinalHeader(raw []byte) (FinalHeader, []byte, error) {
	if len(raw) < finalHeaderSize {
		return FinalHeader{}, nil, fmt.Errorf("wire: final plaintext shorter than header (%d bytes)", len(raw))
	}

	h := FinalHeader{
		NumSURBs:      binary.BigEndian.Uint16(raw[0:2]),
		PacketSignals: binary.BigEndian.Uint32(raw[2:6]),
	}
	return h, raw[finalHeaderSize:], nil
}
