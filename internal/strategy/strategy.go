// Package strategy specifies the event-consumer contracts for the
// auto-funding and auto-redeeming strategies. Per spec §1's Non-goals,
// strategy internals ("described only as event consumers") are out of
// scope; this package pins down only the interfaces the core hands
// events to.
package strategy

import (
	"context"

	"github.com/relaymesh/relayd/internal/chainiface"
)

// AutoFundingStrategy reacts to channel-balance events by deciding
// whether to submit a top-up transaction. The core only ever calls
// Consider; how (or whether) it funds is unspecified.
type AutoFundingStrategy interface {
	Consider(ctx context.Context, event chainiface.SignificantChainEvent)
}

// AutoRedeemingStrategy reacts to winning-ticket events by deciding
// whether to submit a redemption transaction.
type AutoRedeemingStrategy interface {
	Consider(ctx context.Context, event chainiface.SignificantChainEvent)
}

// NoopFunding and NoopRedeeming are the default strategies: they observe
// events but never act, matching the spec's "internals out of scope"
// Non-goal while still giving the composition root something concrete
// to wire in.
type NoopFunding struct{}

func (NoopFunding) Consider(ctx context.Context, event chainiface.SignificantChainEvent) {}

type NoopRedeeming struct{}

func (NoopRedeeming) Consider(ctx context.Context, event chainiface.SignificantChainEvent) {}
