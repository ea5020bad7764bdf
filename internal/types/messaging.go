// Package types defines the shared data model for the shovel transfer
// service: queue records as observed via peek, outbound message envelopes,
// transfer outcomes, tracking entries, and the operation reports returned to
// API callers. Types here are plain data; behavior lives in the packages
// that operate on them.
package types

import "time"

// Reserved application-property keys added by the transfer engine. Reserved
// keys overwrite same-named originals on transfer; every other original
// property is preserved verbatim.
const (
	PropTransferredFrom  = "transferredFrom"
	PropOriginalSequence = "originalSequence"
	PropTransferredAt    = "transferredAt"

	// PropScheduledFor mirrors the broker-level scheduled enqueue time as a
	// plain application property, set at initial enqueue for observability.
	PropScheduledFor = "scheduledFor"
)

// QueueLocation identifies which broker queue an entry refers to.
type QueueLocation string

const (
	LocationSource      QueueLocation = "source"
	LocationDestination QueueLocation = "destination"
)

// QueueRecord is one message as observed via a non-destructive peek.
// Immutable once peeked; a later peek of the same sequence number may return
// nothing because the message was consumed or cancelled elsewhere, and
// callers must tolerate that.
type QueueRecord struct {
	// SequenceNumber is broker-assigned and monotonically increasing within
	// one queue.
	SequenceNumber int64 `json:"sequence_number"`

	// OrderID is the business correlation id, also used as message identity.
	OrderID string `json:"order_id"`

	// ScheduledFor is the future delivery instant. Nil means the message is
	// active (eligible for immediate delivery).
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	Payload     []byte `json:"-"`
	ContentType string `json:"content_type,omitempty"`

	// ApplicationProperties carries auxiliary string-keyed metadata attached
	// to the message.
	ApplicationProperties map[string]any `json:"application_properties,omitempty"`
}

// IsScheduledAfter reports whether the record carries a delivery time
// strictly after the given instant. Records without a delivery time are
// active and never transfer-eligible.
func (r QueueRecord) IsScheduledAfter(now time.Time) bool {
	return r.ScheduledFor != nil && r.ScheduledFor.After(now)
}

// OutboundMessage is the envelope handed to the broker for send and
// schedule operations.
type OutboundMessage struct {
	// OrderID becomes both the broker message id and the correlation id.
	OrderID               string
	Body                  []byte
	ContentType           string
	ApplicationProperties map[string]any
}

// SnapshotRow is a peeked message with its payload elided, used in
// validation reports and queue snapshots where only identity and scheduling
// metadata matter.
type SnapshotRow struct {
	SequenceNumber        int64          `json:"sequence_number"`
	OrderID               string         `json:"order_id"`
	ContentType           string         `json:"content_type,omitempty"`
	ScheduledFor          *time.Time     `json:"scheduled_for,omitempty"`
	ApplicationProperties map[string]any `json:"application_properties,omitempty"`
}

// Snapshot converts a peeked record into its report form.
func (r QueueRecord) Snapshot() SnapshotRow {
	return SnapshotRow{
		SequenceNumber:        r.SequenceNumber,
		OrderID:               r.OrderID,
		ContentType:           r.ContentType,
		ScheduledFor:          r.ScheduledFor,
		ApplicationProperties: r.ApplicationProperties,
	}
}
