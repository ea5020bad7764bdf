package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shovel/internal/broker"
	"shovel/internal/types"
)

var testClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testClock }

func newTestExecutor(t *testing.T) (*Executor, *broker.MemoryQueue, *broker.MemoryQueue, *broker.MemoryQueue) {
	t.Helper()
	source := broker.NewMemoryQueue("orders-source")
	dest := broker.NewMemoryQueue("orders-dest")
	errQueue := broker.NewMemoryQueue("transfer-errors")
	source.Now = fixedNow
	dest.Now = fixedNow
	errQueue.Now = fixedNow

	sink := NewErrorSink(errQueue, slog.Default())
	return NewExecutor(source, dest, sink, fixedNow, slog.Default()), source, dest, errQueue
}

func scheduleOne(t *testing.T, q *broker.MemoryQueue, orderID string, at time.Time) types.QueueRecord {
	t.Helper()
	_, err := q.ScheduleAt(context.Background(), types.OutboundMessage{
		OrderID:     orderID,
		Body:        []byte(`{"order_id":"` + orderID + `"}`),
		ContentType: "application/json",
		ApplicationProperties: map[string]any{
			"brand":   "flagship",
			"channel": "app",
		},
	}, at)
	require.NoError(t, err)

	records, err := q.Peek(context.Background(), 0, 100)
	require.NoError(t, err)
	return records[len(records)-1]
}

func TestExecutorTransfer_Success(t *testing.T) {
	exec, source, dest, errQueue := newTestExecutor(t)
	scheduledFor := testClock.Add(15 * time.Hour)
	rec := scheduleOne(t, source, "ORD-1", scheduledFor)

	result := exec.Transfer(context.Background(), rec)

	require.Equal(t, types.StatusTransferred, result.Status)
	assert.Equal(t, rec.SequenceNumber, result.SourceSequence)
	assert.NotZero(t, result.DestSequence)

	assert.Equal(t, 0, source.Len(), "source message removed")
	assert.Equal(t, 0, errQueue.Len())

	moved := dest.Records()
	require.Len(t, moved, 1)
	require.NotNil(t, moved[0].ScheduledFor)
	assert.True(t, moved[0].ScheduledFor.Equal(scheduledFor), "delivery instant preserved exactly")
	assert.Equal(t, rec.Payload, moved[0].Payload, "payload preserved byte for byte")
	assert.Equal(t, "application/json", moved[0].ContentType)
	assert.Equal(t, "ORD-1", moved[0].OrderID)
}

func TestExecutorTransfer_StampsProvenanceProperties(t *testing.T) {
	exec, source, dest, _ := newTestExecutor(t)
	rec := scheduleOne(t, source, "ORD-1", testClock.Add(time.Hour))

	result := exec.Transfer(context.Background(), rec)
	require.Equal(t, types.StatusTransferred, result.Status)

	props := dest.Records()[0].ApplicationProperties
	assert.Equal(t, "orders-source", props[types.PropTransferredFrom])
	assert.Equal(t, rec.SequenceNumber, props[types.PropOriginalSequence])
	assert.Equal(t, testClock.Format(time.RFC3339Nano), props[types.PropTransferredAt])

	assert.Equal(t, "flagship", props["brand"], "original properties preserved")
	assert.Equal(t, "app", props["channel"])
}

func TestExecutorTransfer_ReservedKeyOverwritesOriginal(t *testing.T) {
	exec, source, dest, _ := newTestExecutor(t)
	_, err := source.ScheduleAt(context.Background(), types.OutboundMessage{
		OrderID: "ORD-1",
		Body:    []byte(`{}`),
		ApplicationProperties: map[string]any{
			types.PropTransferredFrom: "spoofed-queue",
		},
	}, testClock.Add(time.Hour))
	require.NoError(t, err)
	records, err := source.Peek(context.Background(), 0, 1)
	require.NoError(t, err)

	result := exec.Transfer(context.Background(), records[0])
	require.Equal(t, types.StatusTransferred, result.Status)

	props := dest.Records()[0].ApplicationProperties
	assert.Equal(t, "orders-source", props[types.PropTransferredFrom])
}

func TestExecutorTransfer_VanishedMessageIsSkipped(t *testing.T) {
	exec, _, dest, errQueue := newTestExecutor(t)
	scheduledFor := testClock.Add(time.Hour)

	// A record peeked earlier whose message was consumed since.
	rec := types.QueueRecord{SequenceNumber: 99, OrderID: "ORD-gone", ScheduledFor: &scheduledFor}
	result := exec.Transfer(context.Background(), rec)

	assert.Equal(t, types.StatusSkippedActive, result.Status)
	assert.Empty(t, result.Error)
	assert.Equal(t, 0, dest.Len())
	assert.Equal(t, 0, errQueue.Len(), "benign race is not an error")
}

func TestExecutorTransfer_CancelFailureLeavesSourceIntact(t *testing.T) {
	exec, source, dest, errQueue := newTestExecutor(t)
	rec := scheduleOne(t, source, "ORD-1", testClock.Add(time.Hour))

	source.CancelScheduledFn = func(sequenceNumber int64) error {
		return errors.New("amqp link detached")
	}

	result := exec.Transfer(context.Background(), rec)

	assert.Equal(t, types.StatusFailed, result.Status)
	assert.Equal(t, types.ErrCodeCancelFailed, result.ErrorCode, "per-record failure, not a scan-level broker outage")
	assert.Equal(t, 1, source.Len(), "source message untouched, retry is safe")
	assert.Equal(t, 0, dest.Len())
	assert.Equal(t, 0, errQueue.Len(), "recoverable failures stay out of the sink")
}

func TestExecutorTransfer_PartialFailureRoutedToSink(t *testing.T) {
	exec, source, dest, errQueue := newTestExecutor(t)
	rec := scheduleOne(t, source, "ORD-1", testClock.Add(time.Hour))

	dest.ScheduleAtFn = func(msg types.OutboundMessage, at time.Time) (int64, error) {
		return 0, errors.New("destination namespace unreachable")
	}

	result := exec.Transfer(context.Background(), rec)

	assert.Equal(t, types.StatusPartialFailureLost, result.Status)
	assert.Equal(t, types.ErrCodePartialFailureLost, result.ErrorCode)
	assert.Equal(t, 0, source.Len(), "message already cancelled at source")

	require.Equal(t, 1, errQueue.Len(), "failure record sent to the sink")
	var failure FailureRecord
	require.NoError(t, json.Unmarshal(errQueue.Records()[0].Payload, &failure))
	assert.Equal(t, "TRANSFER_ERROR", failure.Type)
	assert.Equal(t, "ORD-1", failure.OrderID)
	assert.Equal(t, rec.SequenceNumber, failure.SourceSequence)
	assert.Equal(t, types.StatePartialFailureLost, failure.State)
	assert.NotEmpty(t, failure.PayloadDigest)
	assert.Contains(t, failure.Reason, "unreachable")
}

func TestExecutorTransfer_SinkFailureDoesNotMaskResult(t *testing.T) {
	exec, source, dest, errQueue := newTestExecutor(t)
	rec := scheduleOne(t, source, "ORD-1", testClock.Add(time.Hour))

	dest.ScheduleAtFn = func(msg types.OutboundMessage, at time.Time) (int64, error) {
		return 0, errors.New("destination namespace unreachable")
	}
	errQueue.SendFn = func(msg types.OutboundMessage) error {
		return errors.New("sink down too")
	}

	result := exec.Transfer(context.Background(), rec)
	assert.Equal(t, types.StatusPartialFailureLost, result.Status)
}

func TestExecutorTransfer_NilScheduledForNeverCancels(t *testing.T) {
	exec, source, _, _ := newTestExecutor(t)
	require.NoError(t, source.Send(context.Background(), types.OutboundMessage{OrderID: "ORD-active", Body: []byte(`{}`)}))
	records, err := source.Peek(context.Background(), 0, 1)
	require.NoError(t, err)

	result := exec.Transfer(context.Background(), records[0])

	assert.Equal(t, types.StatusSkippedActive, result.Status)
	assert.Equal(t, 1, source.Len(), "active message must never be touched")
}
