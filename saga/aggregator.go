package saga

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Decision is the terminal verdict of an outcome aggregation. Confirmed is
// true iff every expected participant succeeded.
type Decision struct {
	Confirmed bool
	// Reasons holds the failed participants' reasons, sorted by
	// participant name for a deterministic rendering.
	Reasons []string
}

// Reason renders the combined failure reason.
func (d Decision) Reason() string {
	return strings.Join(d.Reasons, "; ")
}

// Decider turns a decision into the saga's terminal event. The bounded
// context owning the saga supplies it; the aggregator itself knows nothing
// about concrete event types. The cause is the result message that completed
// the aggregate, so the terminal event's causation chain converges there.
type Decider interface {
	Decide(ctx context.Context, d Decision, cause Message) error
}

// OutcomeAggregator collects the participants' results under the fanout
// topology. It decides only once every expected participant has reported:
// deciding earlier would publish a rejection before a slow participant has
// written its own state record, losing the compensation signal for good.
type OutcomeAggregator struct {
	store    AggregateStore
	decider  Decider
	expected []string
	logger   *slog.Logger
}

// NewOutcomeAggregator creates an aggregator expecting the named
// participants. A nil logger falls back to slog.Default.
func NewOutcomeAggregator(store AggregateStore, decider Decider, logger *slog.Logger, participants ...string) *OutcomeAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomeAggregator{
		store:    store,
		decider:  decider,
		expected: participants,
		logger:   logger,
	}
}

// Open is the handler for the fan-out origin event: it creates the pending
// aggregate. It must be subscribed before the participants so the record
// exists by the time the first result arrives.
func (a *OutcomeAggregator) Open(ctx context.Context, msg Message) error {
	agg := NewAggregate(msg.CorrelationID(), a.expected...)
	if err := a.store.Open(ctx, agg); err != nil {
		return fmt.Errorf("open outcome aggregate: %w", err)
	}
	a.logger.Debug("outcome aggregate opened",
		"correlation_id", msg.CorrelationID(),
		"expected", a.expected,
	)
	return nil
}

// Handle is the handler for participant result events. It records the
// result and, when the aggregate just completed, publishes the terminal
// decision through the decider.
func (a *OutcomeAggregator) Handle(ctx context.Context, msg Message) error {
	result, ok := msg.(Result)
	if !ok {
		return fmt.Errorf("%w: %T is not a participant result", ErrUnexpectedMessage, msg)
	}

	var decision *Decision
	_, err := a.store.Mutate(ctx, msg.CorrelationID(), func(agg *Aggregate) error {
		if err := agg.Record(result.Participant(), result.Succeeded(), result.FailureReason()); err != nil {
			return err
		}
		if !agg.Complete() {
			return nil
		}
		agg.Decided = true
		decision = &Decision{
			Confirmed: agg.AllSucceeded(),
			Reasons:   sortedReasons(agg.FailureReasons()),
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.logger.Info("participant reported",
		"correlation_id", msg.CorrelationID(),
		"participant", result.Participant(),
		"succeeded", result.Succeeded(),
	)

	if decision == nil {
		return nil
	}
	// The decision is published outside the store's mutation so handlers
	// reacting to the terminal event never run under the aggregate lock.
	return a.decider.Decide(ctx, *decision, msg)
}

func sortedReasons(byParticipant map[string]string) []string {
	participants := make([]string, 0, len(byParticipant))
	for p := range byParticipant {
		participants = append(participants, p)
	}
	sort.Strings(participants)
	reasons := make([]string, 0, len(participants))
	for _, p := range participants {
		reasons = append(reasons, byParticipant[p])
	}
	return reasons
}
