package chainiface

import (
	"testing"

	"github.com/relaymesh/relayd/fn"
	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
	"github.com/stretchr/testify/require"
)

func TestSignificantChainEventOptionalFieldsDefaultToNone(t *testing.T) {
	event := SignificantChainEvent{Kind: EventChannelOpened}

	require.True(t, event.Delta.IsNone())
	require.True(t, event.Deadline.IsNone())
	require.True(t, event.NodeAddress.IsNone())
}

func TestSignificantChainEventCarriesDeltaForBalanceEvents(t *testing.T) {
	event := SignificantChainEvent{
		Kind:  EventChannelBalanceIncreased,
		Delta: fn.Some(ticket.AmountFromUint64(500)),
	}

	require.True(t, event.Delta.IsSome())
	require.Equal(t, uint64(500), event.Delta.UnwrapOr(ticket.Amount{}).Uint64())
}
