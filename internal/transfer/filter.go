// Package transfer implements the batched transfer engine: the paginated
// peek cursor, the scheduled-message filter, the cancel-and-reschedule
// executor, and the surrounding scan service with its reconciliation,
// validation, and cleanup operations.
package transfer

import (
	"time"

	"shovel/internal/types"
)

// Classification is the eligibility decision for one peeked record.
type Classification int

const (
	// Eligible: the record has a delivery time strictly in the future and
	// may be cancelled and rescheduled.
	Eligible Classification = iota

	// ActiveSkip: the record has no delivery time, or its delivery time has
	// already arrived. It must never be cancelled or touched.
	ActiveSkip
)

// Classify decides transfer eligibility for a record at the evaluation
// instant. Pure function; eligibility always derives from broker state
// alone, never from tracking data.
func Classify(rec types.QueueRecord, now time.Time) Classification {
	if rec.IsScheduledAfter(now) {
		return Eligible
	}
	return ActiveSkip
}
