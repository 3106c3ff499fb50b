// Package notify implements P4 Output & Monitoring's dispatch side:
// priority-banded rate/cooldown limiting, per-(symbol,band) daily
// deduplication, retrying pluggable-sink dispatch, and the per-notification
// QUEUED->READY->SENDING->SENT|FAILED|EXPIRED state machine. The metrics
// half of P4 is internal/metrics, threaded into this package rather than
// duplicated. The dispatch loop takes the shape of a bounded, priority-
// ordered broadcast queue reworked from "fan out to every connected client"
// to "rate-limited dispatch to one external sink".
package notify

import "context"

// Outcome is a sink's terminal classification of one dispatch attempt:
// dispatch(envelope) -> Ok | Transient | Permanent.
type Outcome int

const (
	Ok Outcome = iota
	TransientError
	PermanentError
)

// Envelope is the notification payload handed to a Sink, matching the design's
// external interface: recipient id, subject, a structured body, and the
// priority band that drove its scheduling.
type Envelope struct {
	RecipientID string
	Subject     string
	Body        Body
	Band        Band
}

// Body carries the structured trade context a notification conveys. The
// notification body never contains internal error detail:
// diagnostic detail stays in metrics/logs, never in these fields.
type Body struct {
	Symbol      string
	Direction   string
	EntryPrice  string
	StopLoss    string
	TakeProfit  string
	Confidence  float64
	Rationale   string
	EmittedAt   string
}

// Sink is the pluggable notification transport contract. Concrete sinks
// (email/SMTP, chat bots, webhooks) live outside the pipeline core per
// scope boundary; the pipeline only depends on this interface.
type Sink interface {
	Dispatch(ctx context.Context, envelope Envelope) (Outcome, error)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, envelope Envelope) (Outcome, error)

func (f SinkFunc) Dispatch(ctx context.Context, envelope Envelope) (Outcome, error) {
	return f(ctx, envelope)
}
