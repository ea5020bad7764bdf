package transfer

import (
	"context"
	"errors"
	"fmt"

	"shovel/internal/broker"
	"shovel/internal/types"
)

// receiveDrainBatch is the per-call batch size when draining active
// messages during cleanup.
const receiveDrainBatch = 50

// PurgeAll destructively drains the whole system: every scheduled message
// in source and destination is cancelled, every active message is received
// and acknowledged, the error sink is drained, and all tracking data is
// deleted. Used only for test teardown and gated behind an explicit
// confirmation at the API boundary.
//
// Safe to invoke repeatedly: a second call on an already-empty system
// reports zero further deletions.
func (s *Service) PurgeAll(ctx context.Context) (*types.PurgeSummary, error) {
	summary := &types.PurgeSummary{}

	summary.SourceScheduledCancelled = s.cancelAllScheduled(ctx, s.source, summary)
	summary.DestScheduledCancelled = s.cancelAllScheduled(ctx, s.dest, summary)

	summary.SourceActiveDrained = s.drainActive(ctx, s.source, summary)
	summary.DestActiveDrained = s.drainActive(ctx, s.dest, summary)
	summary.ErrorQueueDrained = s.drainActive(ctx, s.errQueue, summary)

	deleted, err := s.tracking.PurgeAll(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("tracking purge: %v", err))
	}
	summary.TrackingKeysDeleted = deleted

	s.logger.InfoContext(ctx, "purge complete",
		"source_scheduled_cancelled", summary.SourceScheduledCancelled,
		"dest_scheduled_cancelled", summary.DestScheduledCancelled,
		"source_active_drained", summary.SourceActiveDrained,
		"dest_active_drained", summary.DestActiveDrained,
		"error_queue_drained", summary.ErrorQueueDrained,
		"tracking_keys_deleted", summary.TrackingKeysDeleted,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

// cancelAllScheduled peeks the queue and cancels every future-scheduled
// message it observes. Messages that vanish between peek and cancel are
// counted as already gone, not as failures.
func (s *Service) cancelAllScheduled(ctx context.Context, q broker.Queue, summary *types.PurgeSummary) int {
	records, err := s.scanAll(ctx, q, s.cfg.MaxTotalMessages)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("peek %s: %v", q.Name(), err))
		return 0
	}

	cancelled := 0
	now := s.now()
	for _, rec := range records {
		if Classify(rec, now) != Eligible {
			continue
		}
		err := q.CancelScheduled(ctx, rec.SequenceNumber)
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, broker.ErrMessageNotFound):
			// Already delivered or cancelled; nothing left to purge.
		default:
			summary.Errors = append(summary.Errors, fmt.Sprintf("cancel %s seq %d: %v", q.Name(), rec.SequenceNumber, err))
		}
	}
	return cancelled
}

// drainActive receive-and-acknowledges immediately deliverable messages
// until a receive comes back empty.
func (s *Service) drainActive(ctx context.Context, q broker.Queue, summary *types.PurgeSummary) int {
	drained := 0
	for {
		records, err := q.ReceiveAndComplete(ctx, receiveDrainBatch, s.cfg.ReceiveWait)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("drain %s: %v", q.Name(), err))
			return drained
		}
		if len(records) == 0 {
			return drained
		}
		drained += len(records)
	}
}
