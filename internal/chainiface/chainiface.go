// Package chainiface pins down the capability interfaces the core is
// generic over for chain and database access, per spec §9's "dynamic
// dispatch over chain clients and database adapters is expressed as a
// capability interface" design note. Implementations live in
// internal/store and the external Chain Connector; this package only
// specifies the contracts.
package chainiface

import (
	"context"

	"github.com/relaymesh/relayd/fn"
	"github.com/relaymesh/relayd/internal/channelgraph"
	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
)

// ChainReadChannelOperations is the read-side view of on-chain channel
// state, consumed by the Indexer to populate the Channel Graph.
type ChainReadChannelOperations interface {
	// ChannelByID returns the current on-chain-derived state of a channel.
	ChannelByID(ctx context.Context, id ticket.ChannelID) (*channelgraph.Channel, error)

	// TransactionCount returns the signer's current on-chain transaction
	// count, used by the Transaction Sequencer to seed its nonce.
	TransactionCount(ctx context.Context, signer channelgraph.Address) (uint64, error)
}

// ChainWriteOperations is the set of state-changing chain calls the
// Transaction Sequencer may submit.
type ChainWriteOperations interface {
	OpenChannel(ctx context.Context, dest channelgraph.Address, amount ticket.Amount) ([]byte, error)
	FundChannel(ctx context.Context, id ticket.ChannelID, amount ticket.Amount) ([]byte, error)
	CloseChannel(ctx context.Context, id ticket.ChannelID) ([]byte, error)
	RedeemTicket(ctx context.Context, redeemable Redeemable) ([]byte, error)
	Withdraw(ctx context.Context, to channelgraph.Address, amount ticket.Amount) ([]byte, error)
}

// Redeemable is a ticket the Ack Resolver has determined is a winner,
// signed and ready for on-chain submission.
type Redeemable struct {
	Ticket    ticket.Ticket
	Signature [64]byte
}

// HoprDbTicketOperations is the persistence contract for ticket state,
// satisfied by internal/store's SQLite adapters and by the Ticket Index
// Tracker's Store dependency.
type HoprDbTicketOperations interface {
	// MarkTicketState transitions a persisted ticket between
	// Untouched/BeingRedeemed/BeingAggregated.
	MarkTicketState(ctx context.Context, channelID ticket.ChannelID, index uint64, state TicketState) error

	// PersistTicket stores a ticket accepted by the Ticket Validator.
	PersistTicket(ctx context.Context, t ticket.VerifiedTicket) error
}

// TicketState is the lifecycle state of a persisted ticket.
type TicketState uint8

const (
	TicketUntouched TicketState = iota
	TicketBeingRedeemed
	TicketBeingAggregated
)

// EventKind discriminates the SignificantChainEvent union.
type EventKind int

const (
	EventChannelOpened EventKind = iota
	EventChannelBalanceIncreased
	EventChannelBalanceDecreased
	EventChannelClosureInitiated
	EventChannelClosed
	EventTicketRedeemed
	EventNodeSafeRegistered
)

// SignificantChainEvent is the union of chain-log events the Indexer
// translates into Channel Graph mutations and strategy-layer
// notifications.
type SignificantChainEvent struct {
	Kind      EventKind
	ChannelID ticket.ChannelID

	// Delta is populated for balance-changing events.
	Delta fn.Option[ticket.Amount]

	// Deadline is populated for ChannelClosureInitiated.
	Deadline fn.Option[int64]

	// NodeAddress is populated for NodeSafeRegistered.
	NodeAddress fn.Option[channelgraph.Address]
}

// EventSubscriber is implemented by components that react to chain
// events: the Indexer publishes, the strategy layer and Channel Graph
// subscribe. This breaks the cyclic-reference concern from spec §9 by
// routing through an event bus instead of direct handles.
type EventSubscriber interface {
	OnChainEvent(event SignificantChainEvent)
}
