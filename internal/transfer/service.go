package transfer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"shovel/internal/broker"
	"shovel/internal/types"
)

// Tracking is the capability interface over the tracking store. Implemented
// by *tracking.Store. Every call is fallible and best-effort: the transfer
// scan logs and ignores failures, and eligibility never depends on it.
type Tracking interface {
	Record(ctx context.Context, e types.TrackingEntry) error
	Lookup(ctx context.Context, orderID string) (source, dest *types.TrackingEntry, err error)
	Delete(ctx context.Context, orderID string, loc types.QueueLocation) error
	Entries(ctx context.Context, loc types.QueueLocation) ([]types.TrackingEntry, error)
	Stats(ctx context.Context) (types.TrackingStats, error)
	PurgeAll(ctx context.Context) (int64, error)
}

// Config tunes the scan.
type Config struct {
	BatchSize           int
	MaxTotalMessages    int
	DefaultDelaySeconds int
	ReceiveWait         time.Duration
	ValidatePeekCount   int
}

// maxMetadataSamples caps the application-property samples collected when a
// caller asks for sample metadata.
const maxMetadataSamples = 5

// Service is the transfer engine facade consumed by the API layer. One
// Service instance drives a single logical, sequential scan per Transfer
// call; two concurrent invocations are not mutually excluded here and must
// be serialized externally (overlapping scans double-schedule at worst, see
// the Transfer doc comment).
type Service struct {
	source   broker.Queue
	dest     broker.Queue
	errQueue broker.Queue
	tracking Tracking
	executor *Executor
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// NewService wires the engine. now may be nil, in which case time.Now is
// used.
func NewService(source, dest, errQueue broker.Queue, tr Tracking, cfg Config, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	sink := NewErrorSink(errQueue, logger)
	return &Service{
		source:   source,
		dest:     dest,
		errQueue: errQueue,
		tracking: tr,
		executor: NewExecutor(source, dest, sink, now, logger),
		cfg:      cfg,
		now:      now,
		logger:   logger,
	}
}

// Transfer pages through the source queue, classifies every record against
// current broker state, and cancel-reschedules each eligible one. Per-record
// failures are aggregated and never abort the scan; a broker-level peek
// failure aborts the scan and the report carries the partial results.
//
// maxMessages caps the number of records examined; zero or negative falls
// back to the configured ceiling. Progress already committed is retained on
// abort because eligibility is always re-derived from broker state, so
// re-invoking is safe and convergent.
func (s *Service) Transfer(ctx context.Context, maxMessages int, emitSampleMetadata bool) *types.TransferReport {
	maxTotal := maxMessages
	if maxTotal <= 0 {
		maxTotal = s.cfg.MaxTotalMessages
	}

	report := &types.TransferReport{
		Details:   []types.TransferResult{},
		StartedAt: s.now().UTC(),
	}
	s.logger.InfoContext(ctx, "transfer scan starting",
		"source", s.source.Name(),
		"destination", s.dest.Name(),
		"max_total", maxTotal,
	)

	cur := NewCursor(s.cfg.BatchSize)
	for {
		page, err := PeekPage(ctx, s.source, cur, maxTotal)
		if err != nil {
			report.Aborted = true
			report.AbortReason = types.NewAppError(types.ErrCodeBrokerUnavailable, "peek failed mid-scan", err).Error()
			s.logger.ErrorContext(ctx, "transfer scan aborted",
				"examined", report.TotalExamined,
				"error", err,
			)
			break
		}
		cur = page.Next

		for _, rec := range page.Records {
			report.TotalExamined++
			if emitSampleMetadata && len(report.SampleMetadata) < maxMetadataSamples && len(rec.ApplicationProperties) > 0 {
				report.SampleMetadata = append(report.SampleMetadata, rec.ApplicationProperties)
			}

			if Classify(rec, s.now()) == ActiveSkip {
				report.SkippedActive++
				report.Details = append(report.Details, types.TransferResult{
					OrderID:        rec.OrderID,
					Status:         types.StatusSkippedActive,
					SourceSequence: rec.SequenceNumber,
					ScheduledFor:   rec.ScheduledFor,
				})
				continue
			}

			result := s.executor.Transfer(ctx, rec)
			report.Details = append(report.Details, result)
			switch result.Status {
			case types.StatusTransferred:
				report.Transferred++
				s.trackTransferred(ctx, rec, result.DestSequence)
			case types.StatusSkippedActive:
				report.SkippedActive++
			default:
				// A partial failure keeps its stale source entry on purpose:
				// a later validate call then reports the order as
				// tracked-but-absent, which is the recovery breadcrumb.
				report.Errors++
			}
		}

		if page.Exhausted {
			break
		}
	}

	report.FinishedAt = s.now().UTC()
	s.logger.InfoContext(ctx, "transfer scan finished",
		"transferred", report.Transferred,
		"skipped_active", report.SkippedActive,
		"errors", report.Errors,
		"total_examined", report.TotalExamined,
		"aborted", report.Aborted,
	)
	return report
}

// trackTransferred mirrors a successful transfer into the tracking store:
// the source entry is dropped and a destination entry written. Best-effort.
func (s *Service) trackTransferred(ctx context.Context, rec types.QueueRecord, destSeq int64) {
	if err := s.tracking.Delete(ctx, rec.OrderID, types.LocationSource); err != nil {
		s.logTrackingDegraded(ctx, "delete source entry", rec.OrderID, err)
	}
	err := s.tracking.Record(ctx, types.TrackingEntry{
		OrderID:        rec.OrderID,
		Location:       types.LocationDestination,
		SequenceNumber: destSeq,
		ScheduledFor:   rec.ScheduledFor.UTC(),
		UpdatedAt:      s.now().UTC(),
	})
	if err != nil {
		s.logTrackingDegraded(ctx, "record destination entry", rec.OrderID, err)
	}
}

// logTrackingDegraded is the single place tracking failures on the transfer
// path are reported. They are never surfaced to the caller.
func (s *Service) logTrackingDegraded(ctx context.Context, op, orderID string, err error) {
	s.logger.WarnContext(ctx, "tracking store degraded, continuing broker-only",
		"op", op,
		"order_id", orderID,
		"error", err,
	)
}

// ScheduleMessages schedules each outbound message on the source queue,
// delaySeconds into the future (the configured default when zero or
// negative), and write-through-tracks each resulting sequence number.
func (s *Service) ScheduleMessages(ctx context.Context, msgs []types.OutboundMessage, delaySeconds int) []types.ScheduleResult {
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	if delaySeconds == 0 {
		delaySeconds = s.cfg.DefaultDelaySeconds
	}

	results := make([]types.ScheduleResult, 0, len(msgs))
	for _, msg := range msgs {
		scheduledFor := s.now().UTC().Add(time.Duration(delaySeconds) * time.Second)

		if msg.ApplicationProperties == nil {
			msg.ApplicationProperties = map[string]any{}
		}
		msg.ApplicationProperties[types.PropScheduledFor] = scheduledFor.Format(time.RFC3339Nano)

		seq, err := s.source.ScheduleAt(ctx, msg, scheduledFor)
		if err != nil {
			results = append(results, types.ScheduleResult{OrderID: msg.OrderID, Error: err.Error()})
			continue
		}

		if err := s.tracking.Record(ctx, types.TrackingEntry{
			OrderID:        msg.OrderID,
			Location:       types.LocationSource,
			SequenceNumber: seq,
			ScheduledFor:   scheduledFor,
			UpdatedAt:      s.now().UTC(),
		}); err != nil {
			s.logTrackingDegraded(ctx, "record source entry", msg.OrderID, err)
		}

		results = append(results, types.ScheduleResult{
			OrderID:        msg.OrderID,
			SequenceNumber: seq,
			ScheduledFor:   scheduledFor,
		})
	}
	return results
}

// CancelByOrderID cancels an order's scheduled message using tracking data
// to locate it: source first, then destination.
//
// The lookup depends on the tracking store being populated. If tracking was
// purged or never written, the outcome is not_found_in_tracking even though
// the message may still sit on the broker. Known limitation of keying
// cancellation off the cache.
func (s *Service) CancelByOrderID(ctx context.Context, orderID string) (*types.CancelOutcome, error) {
	src, dst, err := s.tracking.Lookup(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if src != nil {
		return s.cancelTracked(ctx, s.source, *src, types.CancelledFromSource)
	}
	if dst != nil {
		return s.cancelTracked(ctx, s.dest, *dst, types.CancelledFromDestination)
	}
	return &types.CancelOutcome{OrderID: orderID, Status: types.CancelNotFoundInTracking}, nil
}

func (s *Service) cancelTracked(ctx context.Context, q broker.Queue, entry types.TrackingEntry, onSuccess types.CancelStatus) (*types.CancelOutcome, error) {
	outcome := &types.CancelOutcome{
		OrderID:        entry.OrderID,
		Location:       entry.Location,
		SequenceNumber: entry.SequenceNumber,
	}

	err := q.CancelScheduled(ctx, entry.SequenceNumber)
	switch {
	case err == nil:
		outcome.Status = onSuccess
	case errors.Is(err, broker.ErrMessageNotFound):
		// Stale cache: the message was already delivered or cancelled.
		outcome.Status = types.CancelNotFoundOnBroker
	default:
		return nil, types.NewAppError(types.ErrCodeBrokerUnavailable, "cancel failed", err)
	}

	if derr := s.tracking.Delete(ctx, entry.OrderID, entry.Location); derr != nil {
		s.logTrackingDegraded(ctx, "delete entry after cancel", entry.OrderID, derr)
	}
	return outcome, nil
}

// OrderStatus returns the tracking-store view of one order. It reads only
// the cache, never the broker.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (*types.OrderStatus, error) {
	src, dst, err := s.tracking.Lookup(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &types.OrderStatus{
		OrderID: orderID,
		Tracked: src != nil || dst != nil,
		Source:  src,
		Dest:    dst,
	}, nil
}

// Status reports queue depths (scheduled vs active, derived from a bounded
// read-only scan of each queue) plus tracking store counts. The three queue
// scans run concurrently; none of them mutates anything.
func (s *Service) Status(ctx context.Context) (*types.StatusSummary, error) {
	summary := &types.StatusSummary{GeneratedAt: s.now().UTC()}

	var srcScheduled, srcActive, dstScheduled, dstActive, errDepth int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		srcScheduled, srcActive, err = s.countQueue(gctx, s.source)
		return err
	})
	g.Go(func() error {
		var err error
		dstScheduled, dstActive, err = s.countQueue(gctx, s.dest)
		return err
	})
	g.Go(func() error {
		var err error
		records, err := s.scanAll(gctx, s.errQueue, s.cfg.MaxTotalMessages)
		errDepth = len(records)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, types.NewAppError(types.ErrCodeBrokerUnavailable, "status scan failed", err)
	}

	summary.SourceScheduled = srcScheduled
	summary.SourceActive = srcActive
	summary.DestScheduled = dstScheduled
	summary.DestActive = dstActive
	summary.ErrorQueueDepth = errDepth

	stats, err := s.tracking.Stats(ctx)
	if err != nil {
		summary.TrackingDegraded = true
		s.logTrackingDegraded(ctx, "stats", "", err)
	} else {
		summary.Tracking = stats
	}
	return summary, nil
}

// countQueue scans one queue read-only and splits the depth into scheduled
// and active.
func (s *Service) countQueue(ctx context.Context, q broker.Queue) (scheduled, active int, err error) {
	records, err := s.scanAll(ctx, q, s.cfg.MaxTotalMessages)
	if err != nil {
		return 0, 0, err
	}
	now := s.now()
	for _, rec := range records {
		if Classify(rec, now) == Eligible {
			scheduled++
		} else {
			active++
		}
	}
	return scheduled, active, nil
}

// scanAll drives a cursor to exhaustion (bounded by maxTotal) and collects
// every observed record.
func (s *Service) scanAll(ctx context.Context, q broker.Queue, maxTotal int) ([]types.QueueRecord, error) {
	var out []types.QueueRecord
	cur := NewCursor(s.cfg.BatchSize)
	for {
		page, err := PeekPage(ctx, q, cur, maxTotal)
		if err != nil {
			return out, err
		}
		out = append(out, page.Records...)
		cur = page.Next
		if page.Exhausted {
			return out, nil
		}
	}
}
