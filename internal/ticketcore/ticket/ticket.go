// Package ticket defines the wire-encoded probabilistic micropayment ticket
// and its associated half-key-share bookkeeping types.
package ticket

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Sizes of the fixed-layout big-endian ticket record, per the wire format:
//
//	channel_id (32B) || amount (12B) || index (6B) || index_offset (4B) ||
//	encoded_win_prob (7B) || channel_epoch (3B) || challenge (20B) ||
//	signature (64B)
const (
	ChannelIDSize      = 32
	AmountSize         = 12
	IndexSize          = 6
	IndexOffsetSize    = 4
	EncodedWinProbSize = 7
	ChannelEpochSize   = 3
	ChallengeSize      = 20
	SignatureSize      = 64

	// EncodedSize is the total length of a ticket on the wire.
	EncodedSize = ChannelIDSize + AmountSize + IndexSize + IndexOffsetSize +
		EncodedWinProbSize + ChannelEpochSize + ChallengeSize +
		SignatureSize

	// unsignedSize is EncodedSize minus the trailing signature, i.e. the
	// portion that is actually hashed and signed.
	unsignedSize = EncodedSize - SignatureSize
)

// ChannelID identifies a payment channel; it is a pure (direction-sensitive)
// function of its two endpoint addresses.
type ChannelID [ChannelIDSize]byte

// Challenge is the leading ChallengeSize bytes of the compressed encoding
// of the curve point committing to the sum of the issuer's and relay's
// half-key shares.
type Challenge [ChallengeSize]byte

// Amount is a 12-byte big-endian unsigned integer, wide enough to express
// the channel's native balance unit without overflow concerns on any
// supported chain.
type Amount [AmountSize]byte

// AmountFromUint64 encodes a uint64 value into the 12-byte Amount layout.
func AmountFromUint64(v uint64) Amount {
	var a Amount
	binary.BigEndian.PutUint64(a[AmountSize-8:], v)
	return a
}

// Uint64 returns the amount truncated/interpreted as a uint64. Values that
// do not fit panic, since no ticket issued by this codebase ever encodes an
// amount exceeding 2^64-1.
func (a Amount) Uint64() uint64 {
	for _, b := range a[:AmountSize-8] {
		if b != 0 {
			panic("ticket: amount exceeds uint64 range")
		}
	}
	return binary.BigEndian.Uint64(a[AmountSize-8:])
}

// Cmp compares two Amounts as big-endian unsigned integers.
func (a Amount) Cmp(b Amount) int {
	return bytes.Compare(a[:], b[:])
}

// Add returns a+b, the spec's accumulator arithmetic is always performed on
// values that fit a uint64, so overflow beyond that is not a concern here.
func (a Amount) Add(b Amount) Amount {
	return AmountFromUint64(a.Uint64() + b.Uint64())
}

// Sub returns a-b, clamped to zero if b exceeds a.
func (a Amount) Sub(b Amount) Amount {
	av, bv := a.Uint64(), b.Uint64()
	if bv >= av {
		return Amount{}
	}
	return AmountFromUint64(av - bv)
}

// WinProb is the 7-byte big-endian fixed-point encoding of a probability in
// [0,1]. Storing it encoded keeps signatures deterministic across platforms
// that might otherwise disagree on floating point rounding.
type WinProb [EncodedWinProbSize]byte

// maxWinProbUnits is the all-ones value of a 7-byte (56-bit) unsigned
// integer, representing win probability 1.0.
const maxWinProbUnits = (uint64(1) << 56) - 1

// EncodeWinProb converts a floating point probability in [0,1] into its
// fixed-point wire encoding.
func EncodeWinProb(p float64) WinProb {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	units := uint64(p * float64(maxWinProbUnits))

	var w WinProb
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], units)
	copy(w[:], buf[8-EncodedWinProbSize:])
	return w
}

// Float64 decodes the fixed-point win probability back into [0,1].
func (w WinProb) Float64() float64 {
	var buf [8]byte
	copy(buf[8-EncodedWinProbSize:], w[:])
	units := binary.BigEndian.Uint64(buf[:])
	return float64(units) / float64(maxWinProbUnits)
}

// Cmp compares two encoded win probabilities directly on their encoded
// (big-endian) form, as the spec requires.
func (w WinProb) Cmp(o WinProb) int {
	return bytes.Compare(w[:], o[:])
}

// Ticket is a signed probabilistic micropayment authorizing a relay to claim
// Amount with probability decoded from EncodedWinProb.
type Ticket struct {
	ChannelID       ChannelID
	Amount          Amount
	Index           uint64 // only the low 48 bits are significant on the wire
	IndexOffset     uint32
	EncodedWinProb  WinProb
	ChannelEpoch    uint32 // only the low 24 bits are significant on the wire
	Challenge       Challenge
	Signature       [SignatureSize]byte
}

// Aggregated reports whether this ticket covers a range of indices rather
// than a single one.
func (t *Ticket) Aggregated() bool {
	return t.IndexOffset > 1
}

// putUint48 writes the low 48 bits of v into b in big-endian order.
func putUint48(b []byte, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	copy(b, buf[2:])
}

func getUint48(b []byte) uint64 {
	var buf [8]byte
	copy(buf[2:], b)
	return binary.BigEndian.Uint64(buf[:])
}

func putUint24(b []byte, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	copy(b, buf[1:])
}

func getUint24(b []byte) uint32 {
	var buf [4]byte
	copy(buf[1:], b)
	return binary.BigEndian.Uint32(buf[:])
}

// unsignedBytes serializes every field except the trailing signature, in
// wire order.
func (t *Ticket) unsignedBytes() []byte {
	buf := make([]byte, unsignedSize)
	off := 0

	copy(buf[off:], t.ChannelID[:])
	off += ChannelIDSize

	copy(buf[off:], t.Amount[:])
	off += AmountSize

	putUint48(buf[off:], t.Index)
	off += IndexSize

	binary.BigEndian.PutUint32(buf[off:], t.IndexOffset)
	off += IndexOffsetSize

	copy(buf[off:], t.EncodedWinProb[:])
	off += EncodedWinProbSize

	putUint24(buf[off:], t.ChannelEpoch)
	off += ChannelEpochSize

	copy(buf[off:], t.Challenge[:])
	off += ChallengeSize

	return buf
}

// SigningDigest returns keccak256(record_without_signature || domainSeparator),
// the digest that gets ECDSA-signed by the issuer.
func (t *Ticket) SigningDigest(domainSeparator []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(t.unsignedBytes())
	h.Write(domainSeparator)

	var digest [32]byte
	h.Sum(digest[:0])
	return digest
}

// Sign signs the ticket with the issuer's offchain private key and fills in
// the Signature field.
func (t *Ticket) Sign(priv *btcec.PrivateKey, domainSeparator []byte) {
	digest := t.SigningDigest(domainSeparator)

	sig := ecdsa.SignCompact(priv, digest[:], false)
	// SignCompact returns a 65-byte [recoveryID || R || S]; the wire
	// format only carries R||S since the verifier already knows the
	// expected signer (the channel's source address).
	copy(t.Signature[:], sig[1:])
}

// VerifySignature checks the ticket's signature against the issuer's public
// key.
func (t *Ticket) VerifySignature(pub *btcec.PublicKey, domainSeparator []byte) bool {
	digest := t.SigningDigest(domainSeparator)

	var r, s btcec.ModNScalar
	r.SetByteSlice(t.Signature[:32])
	s.SetByteSlice(t.Signature[32:])

	sig := ecdsa.NewSignature(&r, &s)
	return sig.Verify(digest[:], pub)
}

// Encode serializes the ticket to its fixed 148-byte wire layout.
func (t *Ticket) Encode() []byte {
	buf := make([]byte, EncodedSize)
	copy(buf, t.unsignedBytes())
	copy(buf[unsignedSize:], t.Signature[:])
	return buf
}

// Decode parses a ticket from its fixed wire layout.
func Decode(data []byte) (*Ticket, error) {
	if len(data) != EncodedSize {
		return nil, fmt.Errorf("ticket: invalid encoded length %d, want %d",
			len(data), EncodedSize)
	}

	t := &Ticket{}
	off := 0

	copy(t.ChannelID[:], data[off:])
	off += ChannelIDSize

	copy(t.Amount[:], data[off:])
	off += AmountSize

	t.Index = getUint48(data[off:])
	off += IndexSize

	t.IndexOffset = binary.BigEndian.Uint32(data[off:])
	off += IndexOffsetSize

	copy(t.EncodedWinProb[:], data[off:])
	off += EncodedWinProbSize

	t.ChannelEpoch = getUint24(data[off:])
	off += ChannelEpochSize

	copy(t.Challenge[:], data[off:])
	off += ChallengeSize

	copy(t.Signature[:], data[off:])

	return t, nil
}
