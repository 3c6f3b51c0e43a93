// Command relayctl is an offline diagnostic CLI: it reads a relayd
// node's SQLite store directly. There is no running RPC server to talk
// to (process bring-up only, per spec's Non-goals), so relayctl opens
// the database file itself rather than dialing a client connection the
// way the teacher's lncli does.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/relaymesh/relayd/internal/store"
	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
)

type channelStatusCommand struct {
	DataDir   string `long:"datadir" default:"./data" description:"relayd data directory"`
	ChannelID string `long:"channel-id" required:"true" description:"hex-encoded channel ID"`
}

func (c *channelStatusCommand) Execute(args []string) error {
	id, err := parseChannelID(c.ChannelID)
	if err != nil {
		return err
	}

	db, err := store.Open(c.DataDir + "/relayd.db")
	if err != nil {
		return fmt.Errorf("relayctl: open store: %w", err)
	}
	defer db.Close()

	ch, err := db.ChannelByID(context.Background(), id)
	if err != nil {
		return fmt.Errorf("relayctl: load channel: %w", err)
	}

	fmt.Printf("channel %s: source=%x destination=%x balance=%d epoch=%d status=%d\n",
		c.ChannelID, ch.Source, ch.Destination, ch.Balance.Uint64(), ch.Epoch, ch.Status)
	return nil
}

type ticketIndexCommand struct {
	DataDir   string `long:"datadir" default:"./data" description:"relayd data directory"`
	ChannelID string `long:"channel-id" required:"true" description:"hex-encoded channel ID"`
	Epoch     uint32 `long:"epoch" default:"0" description:"channel epoch"`
}

func (c *ticketIndexCommand) Execute(args []string) error {
	id, err := parseChannelID(c.ChannelID)
	if err != nil {
		return err
	}

	db, err := store.Open(c.DataDir + "/relayd.db")
	if err != nil {
		return fmt.Errorf("relayctl: open store: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	idx, err := db.GetOrCreateOutgoingTicketIndex(ctx, id, c.Epoch)
	if err != nil {
		return fmt.Errorf("relayctl: load outgoing index: %w", err)
	}

	value, err := db.GetTicketsValue(ctx, id, c.Epoch)
	if err != nil {
		return fmt.Errorf("relayctl: load unrealized value: %w", err)
	}

	fmt.Printf("channel %s epoch %d: next_outgoing_index=%d unrealized_value=%d\n",
		c.ChannelID, c.Epoch, idx, value.Uint64())
	return nil
}

func parseChannelID(hexStr string) (ticket.ChannelID, error) {
	var id ticket.ChannelID

	raw, err := hex.DecodeString(hexStr)
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("relayctl: invalid channel id %q", hexStr)
	}

	copy(id[:], raw)
	return id, nil
}

type options struct {
	ChannelStatus channelStatusCommand `command:"channel-status" description:"show a channel's stored balance and status"`
	TicketIndex   ticketIndexCommand   `command:"ticket-index" description:"show a channel's outgoing ticket index and unrealized value"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
