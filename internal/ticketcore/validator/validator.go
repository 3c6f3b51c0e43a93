// Package validator implements the Ticket Validator: the ordered set of
// checks a ticket must pass before a relay will cache it pending ack
// resolution.
package validator

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/relaymesh/relayd/internal/channelgraph"
	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
)

// Reason identifies which check in the ordered sequence failed.
type Reason int

const (
	// ReasonBadSignature means the ticket's signature does not verify
	// against the issuer public key passed to Validate under the domain
	// separator.
	ReasonBadSignature Reason = iota

	// ReasonAmountBelowMinimum means ticket.Amount < minAmount.
	ReasonAmountBelowMinimum

	// ReasonWinProbBelowMinimum means the decoded win probability is
	// below the configured floor.
	ReasonWinProbBelowMinimum

	// ReasonChannelNotAcceptingTickets means channel.Status is neither
	// Open nor PendingToClose.
	ReasonChannelNotAcceptingTickets

	// ReasonEpochMismatch means ticket.ChannelEpoch != channel.Epoch.
	ReasonEpochMismatch

	// ReasonExceedsUnrealizedBalance means ticket.Amount exceeds the
	// remaining headroom on the channel for its current epoch.
	ReasonExceedsUnrealizedBalance
)

func (r Reason) String() string {
	switch r {
	case ReasonBadSignature:
		return "signature does not verify"
	case ReasonAmountBelowMinimum:
		return "amount below minimum"
	case ReasonWinProbBelowMinimum:
		return "win probability below minimum"
	case ReasonChannelNotAcceptingTickets:
		return "channel not accepting tickets"
	case ReasonEpochMismatch:
		return "channel epoch mismatch"
	case ReasonExceedsUnrealizedBalance:
		return "amount exceeds unrealized balance"
	default:
		return "unknown reason"
	}
}

// TicketError reports why Validate rejected a ticket, preserving the
// specific reason for diagnostics.
type TicketError struct {
	ChannelID ticket.ChannelID
	Reason    Reason
}

func (e *TicketError) Error() string {
	return fmt.Sprintf("ticket validation failed for channel %x: %s",
		e.ChannelID[:4], e.Reason)
}

// Validate runs the ordered checks against ticket t for channel ch, failing
// on the first unmet condition.
//
//	1. Signature verifies against issuerPubKey under domainSeparator
//	   (Validate does not check that issuerPubKey belongs to ch.Source).
//	2. t.Amount >= minAmount.
//	3. Decoded win probability >= minWinProb.
//	4. ch.Status accepts tickets.
//	5. t.ChannelEpoch == ch.Epoch.
//	6. t.Amount <= headroom, where headroom is the channel balance minus
//	   the value of already-accepted-but-unredeemed tickets for this
//	   epoch — NOT the raw accumulator of already-won ticket value.
func Validate(
	t *ticket.Ticket,
	ch *channelgraph.Channel,
	issuerPubKey *btcec.PublicKey,
	minAmount ticket.Amount,
	minWinProb float64,
	headroom ticket.Amount,
	domainSeparator []byte,
) (*ticket.VerifiedTicket, error) {

	fail := func(r Reason) (*ticket.VerifiedTicket, error) {
		return nil, &TicketError{ChannelID: t.ChannelID, Reason: r}
	}

	if !t.VerifySignature(issuerPubKey, domainSeparator) {
		return fail(ReasonBadSignature)
	}

	if t.Amount.Cmp(minAmount) < 0 {
		return fail(ReasonAmountBelowMinimum)
	}

	if t.EncodedWinProb.Float64() < minWinProb {
		return fail(ReasonWinProbBelowMinimum)
	}

	if !ch.Status.AcceptsTickets() {
		return fail(ReasonChannelNotAcceptingTickets)
	}

	if t.ChannelEpoch != ch.Epoch {
		return fail(ReasonEpochMismatch)
	}

	if t.Amount.Cmp(headroom) > 0 {
		return fail(ReasonExceedsUnrealizedBalance)
	}

	return &ticket.VerifiedTicket{Ticket: t}, nil
}
