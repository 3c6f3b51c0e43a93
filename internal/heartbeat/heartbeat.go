// Package heartbeat implements periodic liveness/quality probing used by
// the Path Selector's QoS source, adapted from the teacher's
// healthcheck.Monitor goroutine-per-check/ticker shape and the original
// Rust heartbeat round config in
// original_source/transport/network/src/heartbeat.rs.
package heartbeat

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/relaymesh/relayd/internal/channelgraph"
)

// Config mirrors the original's HeartbeatConfig: an interval with random
// jitter to avoid network-wide sync, and a freshness threshold for
// deciding which peers are due a probe.
type Config struct {
	Interval  time.Duration
	Variance  time.Duration
	Threshold time.Duration
}

// DefaultConfig matches the spec's "default 60 s with ± variance".
func DefaultConfig() Config {
	return Config{
		Interval:  60 * time.Second,
		Variance:  10 * time.Second,
		Threshold: 5 * time.Minute,
	}
}

// Pinger probes a set of peers and reports round-trip observations. The
// real implementation lives in the transport layer; here it is a
// capability interface so the Prober is generic over it.
type Pinger interface {
	Ping(ctx context.Context, peers []channelgraph.Address) []Observation
}

// PeerSource supplies the set of peers due for a probe this round (those
// whose last-seen timestamp is older than the config's Threshold).
type PeerSource interface {
	PeersSince(cutoff time.Time) []channelgraph.Address
}

// Observation is one peer's round-trip result for a single heartbeat
// round.
type Observation struct {
	Peer      channelgraph.Address
	Success   bool
	RTT       time.Duration
	Timestamp time.Time
}

// observationState is the rolling quality state the Prober maintains per
// peer, exposed to the Path Selector via Connected/Score.
type observationState struct {
	lastSeen time.Time
	measured bool
	score    float64
}

// Prober runs heartbeat rounds on a ticker and maintains per-peer QoS
// state, satisfying pathselect.QoSSource.
type Prober struct {
	cfg    Config
	pinger Pinger
	peers  PeerSource
	clock  clock.Clock

	mu    sync.RWMutex
	state map[channelgraph.Address]*observationState

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Prober. clk lets tests control time deterministically.
func New(cfg Config, pinger Pinger, peers PeerSource, clk clock.Clock) *Prober {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Prober{
		cfg:    cfg,
		pinger: pinger,
		peers:  peers,
		clock:  clk,
		state:  make(map[channelgraph.Address]*observationState),
		quit:   make(chan struct{}),
	}
}

// Start launches the heartbeat round loop. Each round's wait is jittered
// within [Interval, Interval+Variance) to avoid synchronizing rounds
// across the network, mirroring the original's random_integer bound.
func (p *Prober) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop halts the round loop.
func (p *Prober) Stop() {
	close(p.quit)
	p.wg.Wait()
}

func (p *Prober) loop() {
	defer p.wg.Done()

	for {
		jitter := time.Duration(0)
		if p.cfg.Variance > 0 {
			jitter = time.Duration(rand.Int63n(int64(p.cfg.Variance)))
		}

		t := ticker.New(p.cfg.Interval + jitter)
		t.Resume()

		select {
		case <-t.Ticks():
			t.Stop()
			p.round()
		case <-p.quit:
			t.Stop()
			return
		}
	}
}

func (p *Prober) round() {
	cutoff := p.clock.Now().Add(-p.cfg.Threshold)
	due := p.peers.PeersSince(cutoff)
	if len(due) == 0 {
		return
	}

	observations := p.pinger.Ping(context.Background(), due)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, obs := range observations {
		st, ok := p.state[obs.Peer]
		if !ok {
			st = &observationState{}
			p.state[obs.Peer] = st
		}

		st.measured = true
		st.lastSeen = obs.Timestamp

		if obs.Success {
			// Lower RTT yields a higher score, capped to (0, 1].
			st.score = 1.0 / (1.0 + obs.RTT.Seconds())
		} else {
			st.score = 0
		}
	}
}

// Connected reports whether addr has ever been measured, satisfying
// pathselect.QoSSource.
func (p *Prober) Connected(addr channelgraph.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.state[addr]
	return ok && st.measured
}

// Score returns addr's latest quality score in [0, 1], satisfying
// pathselect.QoSSource.
func (p *Prober) Score(addr channelgraph.Address) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.state[addr]
	if !ok {
		return 0
	}
	return st.score
}
