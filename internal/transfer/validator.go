package transfer

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"shovel/internal/types"
)

// Validate cross-checks tracking store content against a fresh broker
// snapshot. Read-only: it never mutates broker or tracking state.
//
// The report carries both queue snapshots and the per-queue diff between
// tracked order ids and the ids actually observed (tracked-but-absent,
// present-but-untracked). When includeTimings is set it also carries the
// delivery timing deltas for every transferred record on the destination.
func (s *Service) Validate(ctx context.Context, peekCount int, includeTimings bool) (*types.ValidationReport, error) {
	if peekCount <= 0 {
		peekCount = s.cfg.ValidatePeekCount
	}

	report := &types.ValidationReport{GeneratedAt: s.now().UTC()}

	var srcRecords, dstRecords []types.QueueRecord
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := s.scanAll(gctx, s.source, peekCount)
		mu.Lock()
		srcRecords = records
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		records, err := s.scanAll(gctx, s.dest, peekCount)
		mu.Lock()
		dstRecords = records
		mu.Unlock()
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, types.NewAppError(types.ErrCodeBrokerUnavailable, "validation snapshot failed", err)
	}

	report.SourcePeek = snapshotRows(srcRecords)
	report.DestinationPeek = snapshotRows(dstRecords)

	srcEntries, srcErr := s.tracking.Entries(ctx, types.LocationSource)
	dstEntries, dstErr := s.tracking.Entries(ctx, types.LocationDestination)
	if srcErr != nil || dstErr != nil {
		// Validation is exactly the operation that exists to read the cache,
		// so its unavailability is reported rather than hidden. The broker
		// snapshots are still returned.
		report.TrackingUnavailable = true
		s.logTrackingDegraded(ctx, "entries for validation", "", firstErr(srcErr, dstErr))
	} else {
		report.SourceDiff = diffQueue(srcEntries, srcRecords)
		report.DestinationDiff = diffQueue(dstEntries, dstRecords)
	}

	if includeTimings {
		report.Timings = transferTimings(dstRecords, s.now())
	}
	return report, nil
}

// diffQueue compares tracked order ids against the ids observed on the
// broker for the same queue.
func diffQueue(entries []types.TrackingEntry, records []types.QueueRecord) types.QueueDiff {
	diff := types.QueueDiff{
		TrackedButAbsent:    []string{},
		PresentButUntracked: []string{},
	}

	present := make(map[string]bool, len(records))
	for _, rec := range records {
		present[rec.OrderID] = true
	}
	tracked := make(map[string]bool, len(entries))
	for _, e := range entries {
		tracked[e.OrderID] = true
		if !present[e.OrderID] {
			diff.TrackedButAbsent = append(diff.TrackedButAbsent, e.OrderID)
		}
	}
	for _, rec := range records {
		if !tracked[rec.OrderID] {
			diff.PresentButUntracked = append(diff.PresentButUntracked, rec.OrderID)
		}
	}

	sort.Strings(diff.TrackedButAbsent)
	sort.Strings(diff.PresentButUntracked)
	return diff
}

// transferTimings extracts timing deltas from destination records that
// carry transfer provenance properties.
func transferTimings(records []types.QueueRecord, now time.Time) []types.TransferTiming {
	timings := []types.TransferTiming{}
	for _, rec := range records {
		if rec.ScheduledFor == nil {
			continue
		}
		raw, ok := rec.ApplicationProperties[types.PropTransferredAt].(string)
		if !ok {
			continue
		}
		transferredAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			continue
		}
		timings = append(timings, types.TransferTiming{
			OrderID:          rec.OrderID,
			ScheduledFor:     rec.ScheduledFor.UTC(),
			TransferredAt:    transferredAt.UTC(),
			TransferToTarget: rec.ScheduledFor.Sub(transferredAt),
			TargetFromNow:    rec.ScheduledFor.Sub(now),
		})
	}
	return timings
}

func snapshotRows(records []types.QueueRecord) []types.SnapshotRow {
	rows := make([]types.SnapshotRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.Snapshot())
	}
	return rows
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
