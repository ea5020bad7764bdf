package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"shovel/internal/broker"
	"shovel/internal/types"
)

// FailureRecord is the diagnostic payload routed to the error sink when a
// transfer step fails irrecoverably. It carries enough context to drive
// manual recovery without consulting logs.
type FailureRecord struct {
	Type           string            `json:"type"`
	OrderID        string            `json:"order_id"`
	SourceSequence int64             `json:"source_sequence"`
	PayloadDigest  string            `json:"payload_digest"`
	Reason         string            `json:"reason"`
	State          types.RecordState `json:"state"`
	Timestamp      time.Time         `json:"timestamp"`
}

// failureRecordType tags error-sink messages for downstream filtering.
const failureRecordType = "TRANSFER_ERROR"

// ErrorSink appends failure records to the error queue. Emission is
// best-effort: a sink failure is logged and swallowed so it can never mask
// the transfer outcome it describes.
type ErrorSink struct {
	queue  broker.Queue
	logger *slog.Logger
}

// NewErrorSink creates an ErrorSink writing to the given queue.
func NewErrorSink(queue broker.Queue, logger *slog.Logger) *ErrorSink {
	return &ErrorSink{queue: queue, logger: logger}
}

// Report sends one failure record to the error queue.
func (s *ErrorSink) Report(ctx context.Context, rec FailureRecord) {
	rec.Type = failureRecordType

	body, err := json.Marshal(rec)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to marshal failure record",
			"order_id", rec.OrderID, "error", err)
		return
	}

	msg := types.OutboundMessage{
		OrderID:     rec.OrderID,
		Body:        body,
		ContentType: "application/json",
	}
	if err := s.queue.Send(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to send failure record to error queue",
			"order_id", rec.OrderID, "error", err)
	}
}

// Executor performs the cancel-source / reschedule-destination operation for
// one eligible record. It isolates every failure to the record at hand; the
// surrounding scan decides nothing beyond aggregating the results.
type Executor struct {
	source broker.Queue
	dest   broker.Queue
	sink   *ErrorSink
	now    func() time.Time
	logger *slog.Logger
}

// NewExecutor wires an Executor. now may be nil, in which case time.Now is
// used.
func NewExecutor(source, dest broker.Queue, sink *ErrorSink, now func() time.Time, logger *slog.Logger) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{source: source, dest: dest, sink: sink, now: now, logger: logger}
}

// Transfer moves one eligible record. Steps, in order:
//
//  1. Cancel the scheduled message at the source by sequence number. A
//     not-found result means the message was delivered or cancelled
//     concurrently: benign, reported as skipped_active.
//  2. Rebuild the message preserving payload, content type, identity, and
//     every original application property, then stamp the reserved
//     provenance properties.
//  3. Schedule it at the destination for exactly the original instant.
//
// If step 1 succeeds but step 3 fails, the message exists nowhere: the
// result is partial_failure_lost, routed to the error sink, and never
// retried automatically. The source message no longer exists to re-cancel,
// so a retry is not idempotent.
func (e *Executor) Transfer(ctx context.Context, rec types.QueueRecord) types.TransferResult {
	result := types.TransferResult{
		OrderID:        rec.OrderID,
		SourceSequence: rec.SequenceNumber,
		ScheduledFor:   rec.ScheduledFor,
	}

	if rec.ScheduledFor == nil {
		// Guarded by the filter; kept as a hard invariant so a miswired
		// caller can never cancel an active message.
		result.Status = types.StatusSkippedActive
		return result
	}

	if err := e.source.CancelScheduled(ctx, rec.SequenceNumber); err != nil {
		if errors.Is(err, broker.ErrMessageNotFound) {
			e.logger.InfoContext(ctx, "scheduled message vanished before cancel, skipping",
				"order_id", rec.OrderID,
				"source_sequence", rec.SequenceNumber,
			)
			result.Status = types.StatusSkippedActive
			return result
		}
		// Per-record and recoverable: the source message is untouched, so a
		// later scan retries it. Distinct from the scan-aborting
		// broker_unavailable kind.
		result.Status = types.StatusFailed
		result.ErrorCode = types.ErrCodeCancelFailed
		result.Error = err.Error()
		e.logger.WarnContext(ctx, "cancel failed, source message untouched",
			"order_id", rec.OrderID,
			"source_sequence", rec.SequenceNumber,
			"state", types.StateFailedBeforeCancel,
			"error", err,
		)
		return result
	}

	// The source message is gone from here on; any failure below is a
	// partial failure requiring manual recovery.
	destSeq, err := e.dest.ScheduleAt(ctx, e.buildDestinationMessage(rec), *rec.ScheduledFor)
	if err != nil {
		result.Status = types.StatusPartialFailureLost
		result.ErrorCode = types.ErrCodePartialFailureLost
		result.Error = err.Error()

		e.logger.ErrorContext(ctx, "message cancelled at source but not scheduled at destination",
			"order_id", rec.OrderID,
			"source_sequence", rec.SequenceNumber,
			"state", types.StatePartialFailureLost,
			"error", err,
		)
		e.sink.Report(ctx, FailureRecord{
			OrderID:        rec.OrderID,
			SourceSequence: rec.SequenceNumber,
			PayloadDigest:  payloadDigest(rec.Payload),
			Reason:         err.Error(),
			State:          types.StatePartialFailureLost,
			Timestamp:      e.now().UTC(),
		})
		return result
	}

	result.Status = types.StatusTransferred
	result.DestSequence = destSeq
	e.logger.InfoContext(ctx, "message transferred",
		"order_id", rec.OrderID,
		"source_sequence", rec.SequenceNumber,
		"dest_sequence", destSeq,
		"scheduled_for", rec.ScheduledFor,
	)
	return result
}

// buildDestinationMessage reuses the source payload bytes, content type, and
// identity, merges all original application properties verbatim, and stamps
// the reserved provenance keys. Reserved keys overwrite originals of the
// same name; nothing else is touched.
func (e *Executor) buildDestinationMessage(rec types.QueueRecord) types.OutboundMessage {
	props := make(map[string]any, len(rec.ApplicationProperties)+3)
	for k, v := range rec.ApplicationProperties {
		props[k] = v
	}
	props[types.PropTransferredFrom] = e.source.Name()
	props[types.PropOriginalSequence] = rec.SequenceNumber
	props[types.PropTransferredAt] = e.now().UTC().Format(time.RFC3339Nano)

	return types.OutboundMessage{
		OrderID:               rec.OrderID,
		Body:                  rec.Payload,
		ContentType:           rec.ContentType,
		ApplicationProperties: props,
	}
}

// payloadDigest returns the hex sha256 of the payload, identifying the lost
// body without replicating potentially sensitive content into the sink.
func payloadDigest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
