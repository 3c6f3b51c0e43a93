// Package surbbalancer implements the SURB Balancer: a per-session control
// loop that keeps a peer's remaining-SURB count close to a target, bounded
// by a per-second cap, while tracking the peer's steady-state consumption
// rate.
package surbbalancer

import (
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/time/rate"
)

// emaAlpha weights the most recent observation in the exponential moving
// average used to anticipate steady-state SURB demand.
const emaAlpha = 0.2

// Config is the balancer's control law parameters.
type Config struct {
	// TargetSURBBuffer is the remaining-SURB count the balancer aims to
	// maintain at the peer.
	TargetSURBBuffer int

	// MaxSURBsPerSec caps how many SURBs the balancer will schedule per
	// second.
	MaxSURBsPerSec float64
}

// Balancer maintains one session's SURB replenishment schedule.
type Balancer struct {
	cfg   Config
	clock clock.Clock

	limiter *rate.Limiter

	lastReport     int
	lastObserved   time.Time
	consumptionEMA float64
}

// New constructs a Balancer for cfg.
func New(cfg Config, clk clock.Clock) *Balancer {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.MaxSURBsPerSec), max(1, int(cfg.MaxSURBsPerSec)))

	return &Balancer{
		cfg:          cfg,
		clock:        clk,
		limiter:      limiter,
		lastObserved: clk.Now(),
	}
}

// Config returns the balancer's current control law.
func (b *Balancer) Config() Config { return b.cfg }

// UpdateConfig replaces the control law, resizing the rate limiter to
// match.
func (b *Balancer) UpdateConfig(cfg Config) {
	b.cfg = cfg
	b.limiter.SetLimit(rate.Limit(cfg.MaxSURBsPerSec))
	b.limiter.SetBurst(max(1, int(b.cfg.MaxSURBsPerSec)))
}

// ReportRemaining records the peer's latest reported remaining-SURB count,
// piggybacked on an incoming packet, and updates the consumption rate
// estimate.
func (b *Balancer) ReportRemaining(remaining int) {
	now := b.clock.Now()
	elapsed := now.Sub(b.lastObserved).Seconds()

	if elapsed > 0 && b.lastReport > 0 {
		consumed := float64(b.lastReport - remaining)
		if consumed < 0 {
			consumed = 0
		}
		instantaneous := consumed / elapsed
		b.consumptionEMA = emaAlpha*instantaneous + (1-emaAlpha)*b.consumptionEMA
	}

	b.lastReport = remaining
	b.lastObserved = now
}

// NextBatchSize computes how many additional SURBs to schedule on the next
// outgoing packet(s), bounded by min(deficit, cap*elapsed).
func (b *Balancer) NextBatchSize() int {
	deficit := b.cfg.TargetSURBBuffer - b.lastReport
	if deficit <= 0 {
		return 0
	}

	allowed := b.limiter.Tokens()
	n := deficit
	if float64(n) > allowed {
		n = int(allowed)
	}
	if n <= 0 {
		return 0
	}

	if !b.limiter.AllowN(b.clock.Now(), n) {
		return 0
	}

	return n
}

// EstimatedConsumptionRate returns the exponentially-averaged estimate of
// the peer's SURB consumption rate, in SURBs/sec.
func (b *Balancer) EstimatedConsumptionRate() float64 {
	return b.consumptionEMA
}
