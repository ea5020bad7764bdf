package types

import "time"

// TransferStatus is the terminal outcome for one candidate record.
type TransferStatus string

const (
	// StatusTransferred: cancelled at the source and confirmed scheduled at
	// the destination.
	StatusTransferred TransferStatus = "transferred"

	// StatusSkippedActive: the record was not eligible (no future delivery
	// time) or vanished before cancellation, a benign race. Never an error.
	StatusSkippedActive TransferStatus = "skipped_active"

	// StatusFailed: the transfer failed before the source message was
	// touched. Recoverable; the message is still on the source queue.
	StatusFailed TransferStatus = "failed"

	// StatusPartialFailureLost: cancelled at the source but never confirmed
	// scheduled at the destination. The most serious outcome; requires
	// manual recovery and is always routed to the error sink.
	StatusPartialFailureLost TransferStatus = "partial_failure_lost"
)

// RecordState tracks a candidate record through the transfer state machine.
// Used in logs and failure records to pinpoint where a transfer stopped.
type RecordState string

const (
	StatePeeked              RecordState = "PEEKED"
	StateClassified          RecordState = "CLASSIFIED"
	StateCancelPending       RecordState = "CANCEL_PENDING"
	StateCancelled           RecordState = "CANCELLED"
	StateDestSchedulePending RecordState = "DEST_SCHEDULE_PENDING"
	StateTransferred         RecordState = "TRANSFERRED"
	StateSkippedActive       RecordState = "SKIPPED_ACTIVE"
	StateFailedBeforeCancel  RecordState = "FAILED_BEFORE_CANCEL"
	StatePartialFailureLost  RecordState = "PARTIAL_FAILURE_LOST"
)

// TransferResult is the outcome for one candidate record.
type TransferResult struct {
	OrderID        string         `json:"order_id"`
	Status         TransferStatus `json:"status"`
	SourceSequence int64          `json:"source_sequence"`
	DestSequence   int64          `json:"dest_sequence,omitempty"`
	ScheduledFor   *time.Time     `json:"scheduled_for,omitempty"`
	ErrorCode      ErrorCode      `json:"error_code,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// TransferReport aggregates one transfer invocation. Per-record errors never
// abort the scan; a broker-level failure aborts the current scan and the
// report carries what was committed so far.
type TransferReport struct {
	Transferred   int `json:"transferred"`
	SkippedActive int `json:"skipped_active"`
	Errors        int `json:"errors"`
	TotalExamined int `json:"total_examined"`

	// Details lists every candidate outcome, sufficient to diagnose any
	// failed or partial_failure_lost entry without consulting logs.
	Details []TransferResult `json:"details"`

	// SampleMetadata holds application-property samples from examined
	// records when requested by the caller.
	SampleMetadata []map[string]any `json:"sample_metadata,omitempty"`

	// Aborted is set when a broker-level failure stopped the scan early.
	// Progress already committed is retained.
	Aborted     bool   `json:"aborted,omitempty"`
	AbortReason string `json:"abort_reason,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ScheduleResult is the per-order outcome of a scheduleBatch invocation.
type ScheduleResult struct {
	OrderID        string    `json:"order_id"`
	SequenceNumber int64     `json:"sequence_number,omitempty"`
	ScheduledFor   time.Time `json:"scheduled_for,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// TrackingEntry is the best-effort, TTL-bounded cache record kept per order
// in the tracking store. Purely diagnostic; never consulted for transfer
// eligibility.
type TrackingEntry struct {
	OrderID        string        `json:"order_id"`
	Location       QueueLocation `json:"location"`
	SequenceNumber int64         `json:"sequence_number"`
	ScheduledFor   time.Time     `json:"scheduled_for"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TrackingStats summarizes tracking store contents.
type TrackingStats struct {
	SourceTracked int `json:"source_tracked"`
	DestTracked   int `json:"dest_tracked"`
}

// CancelOutcome is the result of a cancel-by-order-id request. Cancellation
// is keyed off tracking data: if the store was never populated or was
// purged, the outcome is CancelNotFoundInTracking even though the message
// may still sit on the broker.
type CancelOutcome struct {
	OrderID        string        `json:"order_id"`
	Status         CancelStatus  `json:"status"`
	Location       QueueLocation `json:"location,omitempty"`
	SequenceNumber int64         `json:"sequence_number,omitempty"`
}

// CancelStatus enumerates cancel-by-order-id outcomes.
type CancelStatus string

const (
	CancelledFromSource      CancelStatus = "cancelled_from_source"
	CancelledFromDestination CancelStatus = "cancelled_from_destination"
	CancelNotFoundInTracking CancelStatus = "not_found_in_tracking"
	CancelNotFoundOnBroker   CancelStatus = "not_found_on_broker"
)

// OrderStatus is the tracking-store view of a single order.
type OrderStatus struct {
	OrderID string         `json:"order_id"`
	Tracked bool           `json:"tracked"`
	Source  *TrackingEntry `json:"source,omitempty"`
	Dest    *TrackingEntry `json:"destination,omitempty"`
}

// ReconcileSummary reports a tracking rebuild from current broker state.
type ReconcileSummary struct {
	SourceRebuilt int       `json:"source_rebuilt"`
	DestRebuilt   int       `json:"dest_rebuilt"`
	Errors        []string  `json:"errors,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// QueueDiff is the per-queue discrepancy between tracking entries and the
// orders actually observed on the broker.
type QueueDiff struct {
	TrackedButAbsent    []string `json:"tracked_but_absent"`
	PresentButUntracked []string `json:"present_but_untracked"`
}

// TransferTiming captures the delivery-time deltas for one transferred
// record found on the destination queue.
type TransferTiming struct {
	OrderID          string        `json:"order_id"`
	ScheduledFor     time.Time     `json:"scheduled_for"`
	TransferredAt    time.Time     `json:"transferred_at"`
	TransferToTarget time.Duration `json:"transfer_to_target"`
	TargetFromNow    time.Duration `json:"target_from_now"`
}

// ValidationReport is the read-only cross-check of tracking data against a
// fresh broker snapshot.
type ValidationReport struct {
	SourcePeek      []SnapshotRow `json:"source_peek"`
	DestinationPeek []SnapshotRow `json:"destination_peek"`

	SourceDiff      QueueDiff `json:"source_diff"`
	DestinationDiff QueueDiff `json:"destination_diff"`

	Timings []TransferTiming `json:"timings,omitempty"`

	TrackingUnavailable bool      `json:"tracking_unavailable,omitempty"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// PurgeSummary reports a destructive purgeAll invocation. A second
// invocation on an already-empty system reports zeros, not an error.
type PurgeSummary struct {
	SourceScheduledCancelled int      `json:"source_scheduled_cancelled"`
	DestScheduledCancelled   int      `json:"dest_scheduled_cancelled"`
	SourceActiveDrained      int      `json:"source_active_drained"`
	DestActiveDrained        int      `json:"dest_active_drained"`
	ErrorQueueDrained        int      `json:"error_queue_drained"`
	TrackingKeysDeleted      int64    `json:"tracking_keys_deleted"`
	Errors                   []string `json:"errors,omitempty"`
}

// StatusSummary is the read-only transferStatus view: scheduled/active
// depth per queue plus tracking store counts.
type StatusSummary struct {
	SourceScheduled  int           `json:"source_scheduled"`
	SourceActive     int           `json:"source_active"`
	DestScheduled    int           `json:"dest_scheduled"`
	DestActive       int           `json:"dest_active"`
	ErrorQueueDepth  int           `json:"error_queue_depth"`
	Tracking         TrackingStats `json:"tracking"`
	TrackingDegraded bool          `json:"tracking_degraded,omitempty"`
	GeneratedAt      time.Time     `json:"generated_at"`
}
