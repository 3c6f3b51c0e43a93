package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFinalHeaderRoundTrips(t *testing.T) {
	h := FinalHeader{NumSURBs: 3, PacketSignals: 0xdeadbeef}
	payload := []byte("hello relay")

	raw := h.Encode(payload)

	got, rest, err := DecodeFinalHeader(raw)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.Equal(t, payload, rest)
}

func TestDecodeFinalHeaderRejectsShortInput(t *testing.T) {
	_, _, err := DecodeFinalHeader([]byte{0x01, 0x02})
	require.Error(t, err)
}
