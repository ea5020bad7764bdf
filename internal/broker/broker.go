// Package broker defines the queue capability interface the transfer engine
// depends on, plus the Azure Service Bus implementation and an in-memory
// implementation used by tests and local development.
//
// The engine never talks to the broker SDK directly; it consumes the Queue
// interface so that every operation is mockable and so that broker errors
// can be classified once, at the adapter boundary.
package broker

import (
	"context"
	"errors"
	"time"

	"shovel/internal/types"
)

// ErrMessageNotFound is returned by CancelScheduled when the scheduled
// message no longer exists, typically because it was already delivered or
// cancelled concurrently. This is a benign race by contract: callers treat
// it as a skip, never as a fault.
var ErrMessageNotFound = errors.New("broker: scheduled message not found")

// Queue is a single independently addressable broker queue.
//
// Peek is non-destructive and never mutates the queue. ReceiveAndComplete is
// destructive and is used only by the cleanup purger. All calls are blocking
// from the caller's perspective and honor context cancellation.
type Queue interface {
	// Name returns the queue name, used in logs and reports.
	Name() string

	// Peek returns up to maxCount records starting at fromSequence, ordered
	// by sequence number. An empty result means no records at or beyond
	// fromSequence exist right now.
	Peek(ctx context.Context, fromSequence int64, maxCount int) ([]types.QueueRecord, error)

	// ScheduleAt enqueues msg for delivery at exactly the given instant and
	// returns the broker-assigned sequence number.
	ScheduleAt(ctx context.Context, msg types.OutboundMessage, at time.Time) (int64, error)

	// CancelScheduled removes a scheduled message by sequence number.
	// Returns ErrMessageNotFound when the message no longer exists.
	CancelScheduled(ctx context.Context, sequenceNumber int64) error

	// Send enqueues msg for immediate delivery.
	Send(ctx context.Context, msg types.OutboundMessage) error

	// ReceiveAndComplete destructively receives up to maxCount immediately
	// deliverable messages, acknowledging each, waiting at most wait for
	// messages to arrive. Returns the records it drained.
	ReceiveAndComplete(ctx context.Context, maxCount int, wait time.Duration) ([]types.QueueRecord, error)
}
