package saga

import "errors"

var (
	// ErrMissingMessageID reports a message published without a message ID.
	ErrMissingMessageID = errors.New("saga: message has no message ID")
	// ErrMissingCorrelation reports a message published without a
	// correlation ID. Such a message can never be matched to a process.
	ErrMissingCorrelation = errors.New("saga: message has no correlation ID")
	// ErrUnexpectedMessage reports a handler invoked with a message type it
	// was not built for. This is a wiring error, not a business failure.
	ErrUnexpectedMessage = errors.New("saga: handler received unexpected message type")
	// ErrAlreadyDecided reports a participant result arriving after the
	// outcome for its correlation ID was decided. Accepting it silently
	// could re-trigger compensation, so it is a protocol violation.
	ErrAlreadyDecided = errors.New("saga: outcome already decided for correlation ID")
	// ErrUnknownParticipant reports a result from a participant the
	// aggregate never expected.
	ErrUnknownParticipant = errors.New("saga: result from unexpected participant")
	// ErrAggregateNotFound reports a result for a correlation ID with no
	// open aggregate.
	ErrAggregateNotFound = errors.New("saga: no outcome aggregate for correlation ID")
	// ErrStateMissing reports a lookup miss in a place that assumed prior
	// success. A compensation handler hitting an absent record is a no-op,
	// never this error; the two cases are distinguished at the call site.
	ErrStateMissing = errors.New("saga: expected participant state is missing")
)
