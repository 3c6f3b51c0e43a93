package vrf

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestDeriveVerifyRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	addr := []byte("0xcreatoraddr")
	msg := []byte("response-key-digest-placeholder-32byte")
	dst := []byte("relaymesh-vrf-v1")

	params, err := Derive(priv, addr, msg, dst)
	require.NoError(t, err)

	require.NoError(t, params.Verify(addr, msg, dst))
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	addr := []byte("0xcreatoraddr")
	dst := []byte("relaymesh-vrf-v1")

	params, err := Derive(priv, addr, []byte("message-one"), dst)
	require.NoError(t, err)

	require.Error(t, params.Verify(addr, []byte("message-two"), dst))
}

func TestVerifyRejectsWrongCreator(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	msg := []byte("some-message")
	dst := []byte("relaymesh-vrf-v1")

	params, err := Derive(priv, []byte("addr-a"), msg, dst)
	require.NoError(t, err)

	require.Error(t, params.Verify([]byte("addr-b"), msg, dst))
}

func TestUniformFloat64Bounds(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	params, err := Derive(priv, []byte("addr"), []byte("msg"), []byte("dst"))
	require.NoError(t, err)

	u := params.UniformFloat64()
	require.GreaterOrEqual(t, u, 0.0)
	require.Less(t, u, 1.0)
}
