// Package channelgraph holds the node's view of on-chain payment channels,
// as maintained by the Indexer from chain events.
package channelgraph

import (
	"crypto/sha256"
	"sync"

	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
)

// Address is an onchain settlement address.
type Address [20]byte

// Status is a channel's lifecycle state.
type Status uint8

const (
	// StatusOpen means the channel accepts and redeems tickets normally.
	StatusOpen Status = iota

	// StatusPendingToClose means the channel is in its closure grace
	// period; tickets are still accepted until Deadline.
	StatusPendingToClose

	// StatusClosed means the channel no longer accepts tickets.
	StatusClosed
)

// AcceptsTickets reports whether a channel in this status may still have
// tickets validated against it.
func (s Status) AcceptsTickets() bool {
	return s == StatusOpen || s == StatusPendingToClose
}

// ChannelID derives the direction-sensitive channel identifier from its two
// endpoints: H(source || destination).
func ChannelID(source, destination Address) ticket.ChannelID {
	h := sha256.New()
	h.Write(source[:])
	h.Write(destination[:])

	var id ticket.ChannelID
	h.Sum(id[:0])
	return id
}

// Channel is a single directed payment channel entry. Entries are created
// by the Indexer from chain events and are never deleted; a closed-then-
// reopened channel appears under a new Epoch.
type Channel struct {
	Source      Address
	Destination Address
	Balance     ticket.Amount
	Epoch       uint32
	Status      Status

	// Deadline is meaningful only when Status == StatusPendingToClose.
	Deadline int64
}

// ID returns this channel's direction-sensitive identifier.
func (c *Channel) ID() ticket.ChannelID {
	return ChannelID(c.Source, c.Destination)
}

// Graph is the node's in-memory view of all known channels, indexed by
// channel ID. Readers take a point-in-time Snapshot so that path selection
// and validation never block on the Indexer's writes.
type Graph struct {
	mu       sync.RWMutex
	channels map[ticket.ChannelID]*Channel
}

// New returns an empty channel graph.
func New() *Graph {
	return &Graph{
		channels: make(map[ticket.ChannelID]*Channel),
	}
}

// Upsert installs or replaces the entry for a channel ID. Only the Indexer
// should call this.
func (g *Graph) Upsert(id ticket.ChannelID, ch *Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.channels[id] = ch
}

// Lookup returns the channel for id, if known.
func (g *Graph) Lookup(id ticket.ChannelID) (*Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ch, ok := g.channels[id]
	return ch, ok
}

// LookupByEndpoints is a convenience wrapper computing the ID from its
// endpoints.
func (g *Graph) LookupByEndpoints(source, destination Address) (*Channel, bool) {
	return g.Lookup(ChannelID(source, destination))
}

// Snapshot returns a shallow copy of the current channel set, safe for a
// reader to range over without holding any lock.
func (g *Graph) Snapshot() map[ticket.ChannelID]*Channel {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[ticket.ChannelID]*Channel, len(g.channels))
	for id, ch := range g.channels {
		out[id] = ch
	}
	return out
}
