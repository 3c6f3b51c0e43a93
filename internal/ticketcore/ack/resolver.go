// Package ack implements the Acknowledgement Resolver: combining a relay's
// retained half-key share with the peer's acknowledged share to decide,
// via the VRF, whether a ticket won.
package ack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/relaymesh/relayd/internal/channelgraph"
	"github.com/relaymesh/relayd/internal/ticketcore/index"
	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
	"github.com/relaymesh/relayd/internal/vrf"
	"golang.org/x/sync/errgroup"
)

// unackTicketTimeout and maxUnackTickets bound the unacknowledged-ticket
// cache's lifetime and size.
const (
	unackTicketTimeout = 30 * time.Second
	maxUnackTickets    = 10_000_000
)

// ResolutionKind distinguishes the three possible outcomes of resolving an
// acknowledgement.
type ResolutionKind int

const (
	// RelayingWin means the ticket won; Redeemable is populated and ready
	// for the settlement layer to submit on-chain.
	RelayingWin ResolutionKind = iota

	// RelayingLoss means the ticket lost or could not be resolved to a
	// win; it is discarded.
	RelayingLoss

	// Sending means the challenge matched a ticket this node itself
	// issued rather than relayed (the sender's own path).
	Sending
)

// Resolution is the outcome of resolving one acknowledgement.
type Resolution struct {
	Kind ResolutionKind

	// Redeemable is set when Kind == RelayingWin.
	Redeemable *Redeemable

	// ChannelID is set when Kind == RelayingLoss.
	ChannelID ticket.ChannelID

	// HalfKeyChallenge is set when Kind == Sending.
	HalfKeyChallenge ticket.Challenge
}

// Redeemable is a winning ticket ready for on-chain redemption.
type Redeemable struct {
	Ticket    *ticket.Ticket
	VRFParams *vrf.Parameters
}

// ErrUnacknowledgedTicketNotFound is returned when no unacknowledged ticket
// is cached for the acknowledgement's challenge; may indicate the cache
// expired.
type ErrUnacknowledgedTicketNotFound struct {
	Challenge ticket.Challenge
}

func (e *ErrUnacknowledgedTicketNotFound) Error() string {
	return fmt.Sprintf("no unacknowledged ticket for challenge %x", e.Challenge[:4])
}

// ErrChannelNotFound is returned when the issuer's channel cannot be
// resolved, or its epoch no longer matches the ticket's.
type ErrChannelNotFound struct {
	ChannelID ticket.ChannelID
}

func (e *ErrChannelNotFound) Error() string {
	return fmt.Sprintf("channel %x not found or epoch mismatch", e.ChannelID[:4])
}

// ErrCryptographic wraps a calculation failure in half-key combination or
// VRF derivation.
type ErrCryptographic struct {
	Cause error
}

func (e *ErrCryptographic) Error() string {
	return fmt.Sprintf("cryptographic error: %v", e.Cause)
}

func (e *ErrCryptographic) Unwrap() error { return e.Cause }

// Resolver combines retained half-key shares with incoming acknowledgements
// to determine ticket outcomes. All curve and VRF arithmetic is offloaded
// from the caller's goroutine onto a bounded worker pool.
type Resolver struct {
	graph           *channelgraph.Graph
	tracker         *index.Tracker
	domainSeparator []byte
	chainAddr       []byte
	chainKey        *btcec.PrivateKey

	unacked *lru.LRU[ticket.Challenge, ticket.UnacknowledgedTicket]

	pool *workerPool
}

// New constructs a Resolver. poolSize bounds the number of concurrent
// cryptographic resolutions in flight.
func New(
	graph *channelgraph.Graph,
	tracker *index.Tracker,
	chainKey *btcec.PrivateKey,
	chainAddr []byte,
	domainSeparator []byte,
	poolSize int,
) *Resolver {
	return &Resolver{
		graph:           graph,
		tracker:         tracker,
		domainSeparator: domainSeparator,
		chainAddr:       chainAddr,
		chainKey:        chainKey,
		unacked:         lru.NewLRU[ticket.Challenge, ticket.UnacknowledgedTicket](maxUnackTickets, nil, unackTicketTimeout),
		pool:            newWorkerPool(poolSize),
	}
}

// InsertUnacknowledged caches a verified ticket together with the relay's
// own half-key share, keyed by the ticket's challenge, pending the peer's
// acknowledgement.
func (r *Resolver) InsertUnacknowledged(t *ticket.Ticket, ownShare ticket.HalfKeyShare) {
	r.unacked.Add(t.Challenge, ticket.UnacknowledgedTicket{Ticket: t, OwnShare: ownShare})
}

// Resolve verifies an incoming Acknowledgement and determines the fate of
// the ticket it resolves.
func (r *Resolver) Resolve(ctx context.Context, peerOffchainPK *btcec.PublicKey, a *ticket.Acknowledgement) (*Resolution, error) {
	type verified struct {
		challenge ticket.Challenge
	}

	v, err := runTyped(ctx, r.pool, func() (verified, error) {
		if !a.Verify(peerOffchainPK) {
			return verified{}, &ErrCryptographic{Cause: fmt.Errorf("acknowledgement signature invalid")}
		}
		return verified{challenge: a.PeerShare.ToChallenge()}, nil
	})
	if err != nil {
		return nil, err
	}

	unacked, ok := r.unacked.Get(v.challenge)
	if !ok {
		return nil, &ErrUnacknowledgedTicketNotFound{Challenge: v.challenge}
	}
	r.unacked.Remove(v.challenge)

	issuerChannel, ok := r.graph.Lookup(unacked.Ticket.ChannelID)
	if !ok || issuerChannel.Epoch != unacked.Ticket.ChannelEpoch {
		return nil, &ErrChannelNotFound{ChannelID: unacked.Ticket.ChannelID}
	}

	type resolved struct {
		resolution *Resolution
	}

	out, err := runTyped(ctx, r.pool, func() (resolved, error) {
		responseKey := unacked.OwnShare.Combine(a.PeerShare)
		if !responseKey.MatchesChallenge(unacked.Ticket.Challenge) {
			return resolved{}, &ErrCryptographic{Cause: fmt.Errorf("response key does not satisfy challenge")}
		}

		params, err := vrf.Derive(r.chainKey, r.chainAddr, responseKey[:], r.domainSeparator)
		if err != nil {
			return resolved{}, &ErrCryptographic{Cause: err}
		}

		if params.UniformFloat64() < unacked.Ticket.EncodedWinProb.Float64() {
			return resolved{resolution: &Resolution{
				Kind: RelayingWin,
				Redeemable: &Redeemable{
					Ticket:    unacked.Ticket,
					VRFParams: params,
				},
			}}, nil
		}

		return resolved{resolution: &Resolution{
			Kind:      RelayingLoss,
			ChannelID: unacked.Ticket.ChannelID,
		}}, nil
	})
	if err != nil {
		return nil, err
	}

	if out.resolution.Kind == RelayingWin {
		err := r.tracker.AddUnrealizedValue(ctx, unacked.Ticket.ChannelID, unacked.Ticket.ChannelEpoch, unacked.Ticket.Amount)
		if err != nil {
			return nil, fmt.Errorf("ack: account winning ticket: %w", err)
		}
	}

	return out.resolution, nil
}

// workerPool bounds concurrent cryptographic work to poolSize goroutines at
// a time using an errgroup-backed semaphore.
type workerPool struct {
	sem chan struct{}
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = 1
	}
	return &workerPool{sem: make(chan struct{}, size)}
}

// runTyped executes fn on the worker pool, preserving its result type
// through an errgroup so callers don't need a type assertion.
func runTyped[T any](ctx context.Context, p *workerPool, fn func() (T, error)) (T, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	defer func() { <-p.sem }()

	g, _ := errgroup.WithContext(ctx)

	var (
		out T
		mu  sync.Mutex
	)
	g.Go(func() error {
		v, err := fn()
		mu.Lock()
		out = v
		mu.Unlock()
		return err
	})

	if err := g.Wait(); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
