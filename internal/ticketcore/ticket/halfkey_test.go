package ticket

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func randomHalfKeyShare(t *testing.T) HalfKeyShare {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var h HalfKeyShare
	b := priv.Key.Bytes()
	copy(h[:], b[:])
	return h
}

func TestHalfKeyShareCombineIsCommutative(t *testing.T) {
	own := randomHalfKeyShare(t)
	peer := randomHalfKeyShare(t)

	combined := own.Combine(peer)

	ownChallenge := own.ToChallenge()
	peerChallenge := peer.ToChallenge()
	require.NotEqual(t, ownChallenge, peerChallenge)

	// Combining the shares in either order must yield the same response
	// key.
	require.Equal(t, combined, peer.Combine(own))
}

func TestAcknowledgementSignVerify(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	ack := &Acknowledgement{PeerShare: randomHalfKeyShare(t)}
	ack.Sign(priv)

	require.True(t, ack.Verify(priv.PubKey()))

	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	require.False(t, ack.Verify(other.PubKey()))
}
