// Package txseq implements the Transaction Sequencer: a single goroutine
// ordered worker that seeds a nonce from the chain's transaction count and
// serializes signed-transaction submission, per spec §6/§9 and ported from
// the original Rust sequencer's goroutine/channel shape in
// original_source/chain/connector/src/connector/sequencer.rs.
package txseq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/relaymesh/relayd/internal/channelgraph"
)

// queueCapacity mirrors the original's TX_QUEUE_CAPACITY.
const queueCapacity = 2048

// Outcome classifies a completed submission for nonce-increment purposes.
type Outcome int

const (
	// OutcomeConfirmed means the transaction was accepted on chain.
	OutcomeConfirmed Outcome = iota
	// OutcomeReverted means the transaction executed but reverted.
	OutcomeReverted
	// OutcomeRejected means the chain rejected the transaction outright
	// (e.g. stale nonce, insufficient funds).
	OutcomeRejected
	// OutcomeTimeout means no verdict arrived within the caller's
	// timeout; the nonce is NOT incremented, matching the original's
	// rule that only Reverted/Rejected/Confirmed advance the counter.
	OutcomeTimeout
)

// incrementsNonce reports whether an outcome should advance the local
// nonce counter.
func (o Outcome) incrementsNonce() bool {
	return o == OutcomeConfirmed || o == OutcomeReverted || o == OutcomeRejected
}

// Result is delivered to the caller once a submission completes.
type Result struct {
	TxHash  []byte
	Outcome Outcome
	Err     error
}

// SubmitFunc signs and submits a transaction at the given nonce, blocking
// until the network either confirms, reverts, rejects, or the caller's
// context is done.
type SubmitFunc func(ctx context.Context, nonce uint64) Result

// request is one queued submission plus the channel its result is
// delivered on.
type request struct {
	ctx    context.Context
	submit SubmitFunc
	result chan Result
}

// CountFunc returns the signer's current on-chain transaction count, used
// to seed the nonce exactly once.
type CountFunc func(ctx context.Context, signer channelgraph.Address) (uint64, error)

// Sequencer is a singleton per signer; it must not be copied after first
// use.
type Sequencer struct {
	signer channelgraph.Address
	count  CountFunc

	queue chan request

	nonce       atomic.Uint64
	nonceSeeded atomic.Bool
	seedOnce    sync.Once

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs and starts a Sequencer for signer. The nonce is seeded
// lazily on the first enqueued transaction, mirroring the original's
// OnceCell-guarded chain-info fetch.
func New(signer channelgraph.Address, count CountFunc) *Sequencer {
	s := &Sequencer{
		signer: signer,
		count:  count,
		queue:  make(chan request, queueCapacity),
		quit:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Stop drains in-flight work and halts the sequencer's goroutine. Pending
// queued requests are abandoned.
func (s *Sequencer) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Sequencer) run() {
	defer s.wg.Done()

	for {
		select {
		case req := <-s.queue:
			s.process(req)
		case <-s.quit:
			return
		}
	}
}

func (s *Sequencer) process(req request) {
	if err := s.ensureNonceSeeded(req.ctx); err != nil {
		req.result <- Result{Err: fmt.Errorf("txseq: seed nonce: %w", err)}
		return
	}

	nonce := s.nonce.Load()
	res := req.submit(req.ctx, nonce)

	if res.Outcome.incrementsNonce() {
		s.nonce.Add(1)
	}

	req.result <- res
}

func (s *Sequencer) ensureNonceSeeded(ctx context.Context) error {
	var seedErr error
	s.seedOnce.Do(func() {
		count, err := s.count(ctx, s.signer)
		if err != nil {
			seedErr = err
			return
		}

		// fetch_max semantics: never move the nonce backward.
		for {
			cur := s.nonce.Load()
			if count <= cur {
				break
			}
			if s.nonce.CompareAndSwap(cur, count) {
				break
			}
		}
		s.nonceSeeded.Store(true)
	})

	if seedErr != nil {
		// Allow a retry on the next call if seeding failed.
		s.seedOnce = sync.Once{}
		return seedErr
	}
	return nil
}

// ErrQueueFull is returned when the sequencer's backlog is saturated.
var ErrQueueFull = errors.New("txseq: submission queue is full")

// Enqueue submits a transaction-building closure for ordered, nonce-
// sequenced submission, returning a channel the caller can block on for
// the result.
func (s *Sequencer) Enqueue(ctx context.Context, submit SubmitFunc) (<-chan Result, error) {
	result := make(chan Result, 1)
	req := request{ctx: ctx, submit: submit, result: result}

	select {
	case s.queue <- req:
		return result, nil
	default:
		return nil, ErrQueueFull
	}
}
