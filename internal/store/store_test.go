package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/relaymesh/relayd/internal/chainiface"
	"github.com/relaymesh/relayd/internal/channelgraph"
	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	dbPath := filepath.Join(t.TempDir(), "relayd-test.db")
	db, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOutgoingTicketIndexDefaultsToZero(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var channelID ticket.ChannelID
	channelID[0] = 1

	idx, err := db.GetOrCreateOutgoingTicketIndex(ctx, channelID, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx)
}

func TestUpdateOutgoingTicketIndexPersists(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var channelID ticket.ChannelID
	channelID[0] = 2

	require.NoError(t, db.UpdateOutgoingTicketIndex(ctx, channelID, 0, 7))

	idx, err := db.GetOrCreateOutgoingTicketIndex(ctx, channelID, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(7), idx)
}

func TestTicketsValueDefaultsToZero(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var channelID ticket.ChannelID
	amount, err := db.GetTicketsValue(ctx, channelID, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), amount.Uint64())
}

func TestUpsertAndLoadChannel(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ch := &channelgraph.Channel{
		Balance: ticket.AmountFromUint64(100),
		Status:  channelgraph.StatusOpen,
	}
	ch.Source[0] = 1
	ch.Destination[0] = 2

	require.NoError(t, db.UpsertChannel(ctx, ch))

	got, err := db.ChannelByID(ctx, ch.ID())
	require.NoError(t, err)
	require.Equal(t, ch.Source, got.Source)
	require.Equal(t, uint64(100), got.Balance.Uint64())
}

func TestPersistAndMarkTicketState(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tk := &ticket.Ticket{Index: 3}
	tk.ChannelID[0] = 9

	require.NoError(t, db.PersistTicket(ctx, ticket.VerifiedTicket{Ticket: tk}))
	require.NoError(t, db.MarkTicketState(ctx, tk.ChannelID, tk.Index, chainiface.TicketBeingRedeemed))
}

func TestReplayFilterRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	blob, err := db.LoadReplayFilter(ctx)
	require.NoError(t, err)
	require.Nil(t, blob)

	require.NoError(t, db.SaveReplayFilter(ctx, []byte("some-bloom-bytes")))

	blob, err = db.LoadReplayFilter(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("some-bloom-bytes"), blob)
}
