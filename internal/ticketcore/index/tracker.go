// Package index implements the Ticket Index Tracker: per-channel outgoing
// ticket index counters and per-(channel, epoch) unrealized-value
// accumulators, both backed by TTL+capacity-bounded caches with lazy
// database-backed initialization.
package index

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
)

// idleTimeout and capacity match the contract: both caches are TTL-bounded
// with a 30 minute idle timeout and a hard capacity of 10,000 entries.
const (
	idleTimeout = 30 * time.Minute
	capacity    = 10_000
)

// key identifies a channel's per-epoch accounting bucket. Epoch is part of
// the key so a close/reopen cycle starts fresh accounting without
// cross-contaminating the old epoch's counters.
type key struct {
	channelID ticket.ChannelID
	epoch     uint32
}

// Store is the persistence backend the tracker falls back to on a cache
// miss: the database of record for outgoing ticket indices and accepted
// ticket values.
type Store interface {
	// GetOrCreateOutgoingTicketIndex loads the last persisted outgoing
	// index for (channelID, epoch), defaulting to 0 if none exists.
	GetOrCreateOutgoingTicketIndex(ctx context.Context, channelID ticket.ChannelID, epoch uint32) (uint64, error)

	// GetTicketsValue sums the accepted-unredeemed ticket amounts for
	// (channelID, epoch).
	GetTicketsValue(ctx context.Context, channelID ticket.ChannelID, epoch uint32) (ticket.Amount, error)

	// UpdateOutgoingTicketIndex persists the current counter value for
	// (channelID, epoch).
	UpdateOutgoingTicketIndex(ctx context.Context, channelID ticket.ChannelID, epoch uint32, index uint64) error
}

// Tracker tracks outgoing ticket index counters and incoming unrealized
// balances, both scoped per (channel, epoch).
type Tracker struct {
	store Store

	ticketIndex   *lru.LRU[key, *atomic.Uint64]
	unrealizedVal *lru.LRU[key, *atomic.Uint64] // Amount truncated to a uint64 counter
}

// New constructs a Tracker backed by store.
func New(store Store) *Tracker {
	return &Tracker{
		store:         store,
		ticketIndex:   lru.NewLRU[key, *atomic.Uint64](capacity, nil, idleTimeout),
		unrealizedVal: lru.NewLRU[key, *atomic.Uint64](capacity, nil, idleTimeout),
	}
}

// NextOutgoingTicketIndex atomically increments and returns the previous
// index value for (channelID, epoch), initializing the counter from the
// store on first use.
func (t *Tracker) NextOutgoingTicketIndex(ctx context.Context, channelID ticket.ChannelID, epoch uint32) (uint64, error) {
	k := key{channelID: channelID, epoch: epoch}

	counter, ok := t.ticketIndex.Get(k)
	if !ok {
		persisted, err := t.store.GetOrCreateOutgoingTicketIndex(ctx, channelID, epoch)
		if err != nil {
			return 0, fmt.Errorf("index: load outgoing index: %w", err)
		}

		counter = &atomic.Uint64{}
		counter.Store(persisted)
		t.ticketIndex.Add(k, counter)

		// A concurrent caller may have installed its own counter for
		// the same key first; defer to whichever one landed so all
		// callers observe a single counter per key.
		if existing, ok := t.ticketIndex.Get(k); ok {
			counter = existing
		}
	}

	return counter.Add(1) - 1, nil
}

// IncomingChannelUnrealizedBalance returns the sum of accepted-unredeemed
// ticket amounts for the given incoming channel and epoch, lazily loading
// it from the store on first use.
func (t *Tracker) IncomingChannelUnrealizedBalance(ctx context.Context, channelID ticket.ChannelID, epoch uint32) (ticket.Amount, error) {
	k := key{channelID: channelID, epoch: epoch}

	counter, ok := t.unrealizedVal.Get(k)
	if !ok {
		persisted, err := t.store.GetTicketsValue(ctx, channelID, epoch)
		if err != nil {
			return ticket.Amount{}, fmt.Errorf("index: load unrealized value: %w", err)
		}

		counter = &atomic.Uint64{}
		counter.Store(persisted.Uint64())
		t.unrealizedVal.Add(k, counter)
	}

	return ticket.AmountFromUint64(counter.Load()), nil
}

// AddUnrealizedValue atomically adds amount to the per-(channel, epoch)
// unrealized-value accumulator, lazily initializing it from the store if
// absent. Concurrent callers for the same key linearize on the atomic add.
func (t *Tracker) AddUnrealizedValue(ctx context.Context, channelID ticket.ChannelID, epoch uint32, amount ticket.Amount) error {
	if _, err := t.IncomingChannelUnrealizedBalance(ctx, channelID, epoch); err != nil {
		return err
	}

	k := key{channelID: channelID, epoch: epoch}
	counter, _ := t.unrealizedVal.Get(k)
	counter.Add(amount.Uint64())
	return nil
}

// AcceptAggregated accounts for an aggregated ticket's acceptance by
// subtracting the aggregate amount from the unrealized balance once. It
// does not replace or record the ticket index range the aggregate covers,
// and it leaves the outgoing ticket index counters untouched.
func (t *Tracker) AcceptAggregated(ctx context.Context, channelID ticket.ChannelID, epoch uint32, amount ticket.Amount) error {
	if _, err := t.IncomingChannelUnrealizedBalance(ctx, channelID, epoch); err != nil {
		return err
	}

	k := key{channelID: channelID, epoch: epoch}
	counter, _ := t.unrealizedVal.Get(k)

	for {
		cur := counter.Load()
		sub := amount.Uint64()
		next := cur
		if sub <= cur {
			next = cur - sub
		}
		if counter.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// SyncIndicesToDB flushes every outstanding outgoing ticket index counter
// to the store. Iteration uses Keys/Peek rather than a range that would
// perturb the cache's recency ordering and cause live entries to expire
// early.
func (t *Tracker) SyncIndicesToDB(ctx context.Context) error {
	var firstErr error

	for _, k := range t.ticketIndex.Keys() {
		counter, ok := t.ticketIndex.Peek(k)
		if !ok {
			continue
		}

		err := t.store.UpdateOutgoingTicketIndex(ctx, k.channelID, k.epoch, counter.Load())
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("index: sync channel %x epoch %d: %w",
				k.channelID[:4], k.epoch, err)
		}
	}

	return firstErr
}
