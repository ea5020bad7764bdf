package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shovel/internal/types"
)

// MemoryQueue is an in-memory Queue implementation used by tests and local
// development. It assigns monotonically increasing sequence numbers, keeps
// scheduled and active messages in one sequence space like the real broker,
// and supports failure injection through function fields.
//
// Usage:
//
//	q := NewMemoryQueue("source")
//	seq, _ := q.ScheduleAt(ctx, msg, time.Now().Add(time.Hour))
//
// To simulate a schedule failure:
//
//	q.ScheduleAtFn = func(types.OutboundMessage, time.Time) (int64, error) {
//	    return 0, errors.New("amqp link detached")
//	}
type MemoryQueue struct {
	// PeekFn, ScheduleAtFn, CancelScheduledFn, SendFn override the default
	// behavior when set. They run outside the queue lock.
	PeekFn            func(fromSequence int64, maxCount int) ([]types.QueueRecord, error)
	ScheduleAtFn      func(msg types.OutboundMessage, at time.Time) (int64, error)
	CancelScheduledFn func(sequenceNumber int64) error
	SendFn            func(msg types.OutboundMessage) error

	// Now supplies the clock for active/scheduled decisions; defaults to
	// time.Now.
	Now func() time.Time

	name string

	mu       sync.Mutex
	nextSeq  int64
	messages []storedMessage
}

type storedMessage struct {
	seq          int64
	orderID      string
	body         []byte
	contentType  string
	props        map[string]any
	scheduledFor *time.Time
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{name: name, nextSeq: 1}
}

// Name returns the queue name.
func (q *MemoryQueue) Name() string {
	return q.name
}

func (q *MemoryQueue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

// Peek returns up to maxCount records with sequence >= fromSequence in
// sequence order, without removing them.
func (q *MemoryQueue) Peek(ctx context.Context, fromSequence int64, maxCount int) ([]types.QueueRecord, error) {
	if q.PeekFn != nil {
		return q.PeekFn(fromSequence, maxCount)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var out []types.QueueRecord
	for _, m := range q.messages {
		if m.seq < fromSequence {
			continue
		}
		out = append(out, m.record())
		if len(out) == maxCount {
			break
		}
	}
	return out, nil
}

// ScheduleAt stores msg as a scheduled message and returns its sequence.
func (q *MemoryQueue) ScheduleAt(ctx context.Context, msg types.OutboundMessage, at time.Time) (int64, error) {
	if q.ScheduleAtFn != nil {
		return q.ScheduleAtFn(msg, at)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	at = at.UTC()
	return q.append(msg, &at), nil
}

// CancelScheduled removes a scheduled message by sequence number.
func (q *MemoryQueue) CancelScheduled(ctx context.Context, sequenceNumber int64) error {
	if q.CancelScheduledFn != nil {
		return q.CancelScheduledFn(sequenceNumber)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.messages {
		if m.seq == sequenceNumber && m.scheduledFor != nil {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s seq %d", ErrMessageNotFound, q.name, sequenceNumber)
}

// Send stores msg as an immediately deliverable message.
func (q *MemoryQueue) Send(ctx context.Context, msg types.OutboundMessage) error {
	if q.SendFn != nil {
		return q.SendFn(msg)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q.append(msg, nil)
	return nil
}

// ReceiveAndComplete drains up to maxCount currently deliverable messages
// (no scheduled time, or scheduled time at or before now). The wait
// parameter is accepted for interface parity; an in-memory queue never
// blocks.
func (q *MemoryQueue) ReceiveAndComplete(ctx context.Context, maxCount int, wait time.Duration) ([]types.QueueRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []types.QueueRecord
	var kept []storedMessage
	for _, m := range q.messages {
		deliverable := m.scheduledFor == nil || !m.scheduledFor.After(now)
		if deliverable && len(out) < maxCount {
			out = append(out, m.record())
			continue
		}
		kept = append(kept, m)
	}
	q.messages = kept
	return out, nil
}

// ScheduledCount reports how many messages currently carry a future
// delivery time.
func (q *MemoryQueue) ScheduledCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	n := 0
	for _, m := range q.messages {
		if m.scheduledFor != nil && m.scheduledFor.After(now) {
			n++
		}
	}
	return n
}

// Len reports the total number of stored messages.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Records returns a copy of all stored messages as peek records, in
// sequence order. Test helper.
func (q *MemoryQueue) Records() []types.QueueRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]types.QueueRecord, 0, len(q.messages))
	for _, m := range q.messages {
		out = append(out, m.record())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

func (q *MemoryQueue) append(msg types.OutboundMessage, scheduledFor *time.Time) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq := q.nextSeq
	q.nextSeq++

	props := make(map[string]any, len(msg.ApplicationProperties))
	for k, v := range msg.ApplicationProperties {
		props[k] = v
	}
	body := make([]byte, len(msg.Body))
	copy(body, msg.Body)

	q.messages = append(q.messages, storedMessage{
		seq:          seq,
		orderID:      msg.OrderID,
		body:         body,
		contentType:  msg.ContentType,
		props:        props,
		scheduledFor: scheduledFor,
	})
	return seq
}

func (m storedMessage) record() types.QueueRecord {
	props := make(map[string]any, len(m.props))
	for k, v := range m.props {
		props[k] = v
	}
	body := make([]byte, len(m.body))
	copy(body, m.body)
	rec := types.QueueRecord{
		SequenceNumber:        m.seq,
		OrderID:               m.orderID,
		Payload:               body,
		ContentType:           m.contentType,
		ApplicationProperties: props,
	}
	if m.scheduledFor != nil {
		t := *m.scheduledFor
		rec.ScheduledFor = &t
	}
	return rec
}
