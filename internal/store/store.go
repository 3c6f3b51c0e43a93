// Package store provides the SQLite-backed persistence adapters: the
// channels, tickets, ticket-value, and outgoing-index tables backing the
// chainiface capability interfaces and the Ticket Index Tracker's Store
// dependency, per spec §6's "Persisted state layout". Schema is embedded
// via go:embed, following the teacher's channeldb migration convention of
// keeping schema alongside the code that runs it.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/relaymesh/relayd/internal/chainiface"
	"github.com/relaymesh/relayd/internal/channelgraph"
	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
)

//go:embed schema.sql
var schema string

// DB wraps a SQLite connection and implements index.Store and
// chainiface.HoprDbTicketOperations.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the embedded schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

// GetOrCreateOutgoingTicketIndex implements index.Store.
func (d *DB) GetOrCreateOutgoingTicketIndex(ctx context.Context, channelID ticket.ChannelID, epoch uint32) (uint64, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT next_index FROM outgoing_indices WHERE channel_id = ? AND epoch = ?`,
		channelID[:], epoch)

	var next uint64
	err := row.Scan(&next)
	switch {
	case err == sql.ErrNoRows:
		_, err = d.conn.ExecContext(ctx,
			`INSERT INTO outgoing_indices (channel_id, epoch, next_index) VALUES (?, ?, 0)`,
			channelID[:], epoch)
		if err != nil {
			return 0, fmt.Errorf("store: init outgoing index: %w", err)
		}
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("store: load outgoing index: %w", err)
	}

	return next, nil
}

// UpdateOutgoingTicketIndex implements index.Store.
func (d *DB) UpdateOutgoingTicketIndex(ctx context.Context, channelID ticket.ChannelID, epoch uint32, index uint64) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO outgoing_indices (channel_id, epoch, next_index) VALUES (?, ?, ?)
		 ON CONFLICT(channel_id, epoch) DO UPDATE SET next_index = excluded.next_index`,
		channelID[:], epoch, index)
	if err != nil {
		return fmt.Errorf("store: persist outgoing index: %w", err)
	}
	return nil
}

// GetTicketsValue implements index.Store.
func (d *DB) GetTicketsValue(ctx context.Context, channelID ticket.ChannelID, epoch uint32) (ticket.Amount, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT value FROM ticket_values WHERE channel_id = ? AND epoch = ?`,
		channelID[:], epoch)

	var raw []byte
	err := row.Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		return ticket.Amount{}, nil
	case err != nil:
		return ticket.Amount{}, fmt.Errorf("store: load ticket value: %w", err)
	}

	return decodeAmount(raw), nil
}

// PersistTicket implements chainiface.HoprDbTicketOperations.
func (d *DB) PersistTicket(ctx context.Context, t ticket.VerifiedTicket) error {
	encoded := t.Ticket.Encode()

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO tickets (channel_id, ticket_index, epoch, amount, state, encoded)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(channel_id, ticket_index) DO UPDATE SET encoded = excluded.encoded`,
		t.Ticket.ChannelID[:], t.Ticket.Index, t.Ticket.ChannelEpoch,
		encodeAmount(t.Ticket.Amount), chainiface.TicketUntouched, encoded)
	if err != nil {
		return fmt.Errorf("store: persist ticket: %w", err)
	}
	return nil
}

// MarkTicketState implements chainiface.HoprDbTicketOperations.
func (d *DB) MarkTicketState(ctx context.Context, channelID ticket.ChannelID, index uint64, state chainiface.TicketState) error {
	_, err := d.conn.ExecContext(ctx,
		`UPDATE tickets SET state = ? WHERE channel_id = ? AND ticket_index = ?`,
		state, channelID[:], index)
	if err != nil {
		return fmt.Errorf("store: mark ticket state: %w", err)
	}
	return nil
}

// ChannelByID implements chainiface.ChainReadChannelOperations's local
// cache layer: the Indexer writes here; other components read.
func (d *DB) ChannelByID(ctx context.Context, id ticket.ChannelID) (*channelgraph.Channel, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT source, destination, balance, epoch, status, deadline FROM channels WHERE channel_id = ?`,
		id[:])

	var source, destination, balance []byte
	var ch channelgraph.Channel
	if err := row.Scan(&source, &destination, &balance, &ch.Epoch, &ch.Status, &ch.Deadline); err != nil {
		return nil, fmt.Errorf("store: load channel: %w", err)
	}

	copy(ch.Source[:], source)
	copy(ch.Destination[:], destination)
	ch.Balance = decodeAmount(balance)
	return &ch, nil
}

// UpsertChannel persists the Indexer's latest view of a channel.
func (d *DB) UpsertChannel(ctx context.Context, ch *channelgraph.Channel) error {
	id := ch.ID()
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO channels (channel_id, source, destination, balance, epoch, status, deadline)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET
		   balance = excluded.balance, epoch = excluded.epoch,
		   status = excluded.status, deadline = excluded.deadline`,
		id[:], ch.Source[:], ch.Destination[:], encodeAmount(ch.Balance), ch.Epoch, ch.Status, ch.Deadline)
	if err != nil {
		return fmt.Errorf("store: upsert channel: %w", err)
	}
	return nil
}

// LoadReplayFilter returns the persisted Bloom filter blob, if any.
func (d *DB) LoadReplayFilter(ctx context.Context) ([]byte, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT blob FROM replay_filter WHERE id = 0`)

	var blob []byte
	err := row.Scan(&blob)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("store: load replay filter: %w", err)
	}
	return blob, nil
}

// SaveReplayFilter persists the Bloom filter blob.
func (d *DB) SaveReplayFilter(ctx context.Context, blob []byte) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO replay_filter (id, blob) VALUES (0, ?)
		 ON CONFLICT(id) DO UPDATE SET blob = excluded.blob`,
		blob)
	if err != nil {
		return fmt.Errorf("store: save replay filter: %w", err)
	}
	return nil
}

func encodeAmount(a ticket.Amount) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, a.Uint64())
	return buf
}

func decodeAmount(raw []byte) ticket.Amount {
	if len(raw) < 8 {
		return ticket.Amount{}
	}
	return ticket.AmountFromUint64(binary.BigEndian.Uint64(raw))
}
