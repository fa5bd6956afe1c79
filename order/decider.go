package order

import (
	"context"

	"github.com/freyr/offer/saga"
)

// TerminalDecider turns the outcome aggregator's verdict into this saga's
// terminal event. The rejection it publishes is also the fanout topology's
// compensation trigger: participants that completed work react to it by
// reversing themselves.
type TerminalDecider struct {
	pub saga.Publisher
}

// NewTerminalDecider wires the decider.
func NewTerminalDecider(pub saga.Publisher) *TerminalDecider {
	return &TerminalDecider{pub: pub}
}

func (d *TerminalDecider) Decide(ctx context.Context, decision saga.Decision, cause saga.Message) error {
	if decision.Confirmed {
		return d.pub.Publish(ctx, OrderConfirmed{
			Identity: saga.Follow(cause),
			OrderID:  cause.CorrelationID(),
		})
	}
	return d.pub.Publish(ctx, OrderRejected{
		Identity: saga.Follow(cause),
		OrderID:  cause.CorrelationID(),
		Reason:   decision.Reason(),
	})
}
