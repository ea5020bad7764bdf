package transfer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"shovel/internal/types"
)

// ReconcileTracking rebuilds tracking store content purely from current
// broker state, for disaster recovery after cache loss. Both queues are
// re-peeked read-only up to maxMessages each; existing tracking content is
// dropped wholesale, then every record still carrying a future delivery
// time gets its entry written from the broker record alone. The drop is
// what lets a validate call afterwards report zero mismatches: entries for
// messages no longer on the broker (stale cancels, partial failures) do
// not survive the rebuild. Existing tracking data is never consulted as
// input, which is what makes the rebuild idempotent: rerunning against
// unchanged broker state produces the same entries.
func (s *Service) ReconcileTracking(ctx context.Context, maxMessages int) (*types.ReconcileSummary, error) {
	maxTotal := maxMessages
	if maxTotal <= 0 {
		maxTotal = s.cfg.MaxTotalMessages
	}

	summary := &types.ReconcileSummary{GeneratedAt: s.now().UTC()}

	// The two queue scans are independent and read-only; run them
	// concurrently and join before any tracking write.
	var srcRecords, dstRecords []types.QueueRecord
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := s.scanAll(gctx, s.source, maxTotal)
		mu.Lock()
		srcRecords = records
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		records, err := s.scanAll(gctx, s.dest, maxTotal)
		mu.Lock()
		dstRecords = records
		mu.Unlock()
		return err
	})
	if err := g.Wait(); err != nil {
		return summary, types.NewAppError(types.ErrCodeBrokerUnavailable, "reconcile scan failed", err)
	}

	// Clear before writing: rebuilt content must reflect the broker scan
	// alone, with nothing stale left behind.
	if _, err := s.tracking.PurgeAll(ctx); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("tracking purge before rebuild: %v", err))
	}

	summary.SourceRebuilt = s.rebuildEntries(ctx, srcRecords, types.LocationSource, summary)
	summary.DestRebuilt = s.rebuildEntries(ctx, dstRecords, types.LocationDestination, summary)

	s.logger.InfoContext(ctx, "tracking rebuilt from broker state",
		"source_rebuilt", summary.SourceRebuilt,
		"dest_rebuilt", summary.DestRebuilt,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

// rebuildEntries writes one tracking entry per future-scheduled record.
func (s *Service) rebuildEntries(ctx context.Context, records []types.QueueRecord, loc types.QueueLocation, summary *types.ReconcileSummary) int {
	rebuilt := 0
	now := s.now()
	for _, rec := range records {
		if Classify(rec, now) != Eligible {
			continue
		}
		err := s.tracking.Record(ctx, types.TrackingEntry{
			OrderID:        rec.OrderID,
			Location:       loc,
			SequenceNumber: rec.SequenceNumber,
			ScheduledFor:   rec.ScheduledFor.UTC(),
			UpdatedAt:      now.UTC(),
		})
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s/%s: %v", loc, rec.OrderID, err))
			continue
		}
		rebuilt++
	}
	return rebuilt
}
