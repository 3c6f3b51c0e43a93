package ticket

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// HalfKeyShareSize is the length of a half-key share: a serialized
// secp256k1 scalar.
const HalfKeyShareSize = 32

// HalfKeyShare is one party's contribution to a ticket's response key. Two
// shares, combined, reveal the preimage committed to by a ticket's
// Challenge.
type HalfKeyShare [HalfKeyShareSize]byte

// ToChallenge derives the challenge this share commits to: the leading
// ChallengeSize bytes of the compressed encoding of the point share*G.
func (h HalfKeyShare) ToChallenge() Challenge {
	var scalar btcec.ModNScalar
	scalar.SetByteSlice(h[:])

	var point btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&scalar, &point)
	point.ToAffine()

	var ch Challenge
	compressed := btcec.NewPublicKey(&point.X, &point.Y).SerializeCompressed()
	copy(ch[:], compressed)
	return ch
}

// Combine adds two half-key shares modulo the curve order, yielding the
// full response key both parties can derive once they know each other's
// share.
func (h HalfKeyShare) Combine(other HalfKeyShare) HalfKeyShare {
	var a, b btcec.ModNScalar
	a.SetByteSlice(h[:])
	b.SetByteSlice(other[:])

	a.Add(&b)

	var out HalfKeyShare
	buf := a.Bytes()
	copy(out[:], buf[:])
	return out
}

// MatchesChallenge reports whether this (combined) response key's public
// point equals the given challenge.
func (h HalfKeyShare) MatchesChallenge(ch Challenge) bool {
	return h.ToChallenge() == ch
}

// UnacknowledgedTicket is a verified ticket paired with the relay's own
// half-key share, held pending the peer's acknowledgement.
type UnacknowledgedTicket struct {
	Ticket   *Ticket
	OwnShare HalfKeyShare
}

// VerifiedTicket is a Ticket that has passed Ticket Validator checks.
type VerifiedTicket struct {
	Ticket *Ticket
}

// Acknowledgement is the peer's half-key share together with the peer's
// signature over that share, routed back to the ticket issuer/relay that
// is owed a resolution.
type Acknowledgement struct {
	PeerShare HalfKeyShare
	Signature [SignatureSize]byte
}

// Verify checks the acknowledgement's signature over PeerShare using the
// peer's offchain public key.
func (a *Acknowledgement) Verify(peerOffchainPK *btcec.PublicKey) bool {
	var r, s btcec.ModNScalar
	r.SetByteSlice(a.Signature[:32])
	s.SetByteSlice(a.Signature[32:])

	sig := ecdsa.NewSignature(&r, &s)
	return sig.Verify(a.PeerShare[:], peerOffchainPK)
}

// Sign signs the acknowledgement's PeerShare with the relay's offchain
// private key and fills in Signature.
func (a *Acknowledgement) Sign(priv *btcec.PrivateKey) {
	sig := ecdsa.SignCompact(priv, a.PeerShare[:], false)
	copy(a.Signature[:], sig[1:])
}
