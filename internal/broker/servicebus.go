package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"shovel/internal/types"
)

// ServiceBusQueue implements Queue against one Azure Service Bus queue,
// holding a sender for schedule/cancel/send and a peek-lock receiver for
// peek and destructive receive.
type ServiceBusQueue struct {
	name     string
	sender   *azservicebus.Sender
	receiver *azservicebus.Receiver
	logger   *slog.Logger
}

// NewServiceBusQueue builds sender and receiver clients for queueName on the
// given namespace client.
func NewServiceBusQueue(client *azservicebus.Client, queueName string, logger *slog.Logger) (*ServiceBusQueue, error) {
	sender, err := client.NewSender(queueName, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: creating sender for %s: %w", queueName, err)
	}
	receiver, err := client.NewReceiverForQueue(queueName, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: creating receiver for %s: %w", queueName, err)
	}
	return &ServiceBusQueue{
		name:     queueName,
		sender:   sender,
		receiver: receiver,
		logger:   logger,
	}, nil
}

// Name returns the queue name.
func (q *ServiceBusQueue) Name() string {
	return q.name
}

// Peek performs a single non-destructive read of up to maxCount messages
// starting at fromSequence.
func (q *ServiceBusQueue) Peek(ctx context.Context, fromSequence int64, maxCount int) ([]types.QueueRecord, error) {
	msgs, err := q.receiver.PeekMessages(ctx, maxCount, &azservicebus.PeekMessagesOptions{
		FromSequenceNumber: &fromSequence,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: peek on %s from %d: %w", q.name, fromSequence, err)
	}

	records := make([]types.QueueRecord, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, recordFromReceived(m))
	}
	return records, nil
}

// ScheduleAt schedules msg on the queue for exactly the at instant.
func (q *ServiceBusQueue) ScheduleAt(ctx context.Context, msg types.OutboundMessage, at time.Time) (int64, error) {
	seqs, err := q.sender.ScheduleMessages(ctx, []*azservicebus.Message{outboundToSDK(msg)}, at, nil)
	if err != nil {
		return 0, fmt.Errorf("broker: schedule on %s: %w", q.name, err)
	}
	if len(seqs) != 1 {
		return 0, fmt.Errorf("broker: schedule on %s returned %d sequence numbers", q.name, len(seqs))
	}
	return seqs[0], nil
}

// CancelScheduled cancels one scheduled message. A message that has already
// been delivered or cancelled maps to ErrMessageNotFound.
func (q *ServiceBusQueue) CancelScheduled(ctx context.Context, sequenceNumber int64) error {
	err := q.sender.CancelScheduledMessages(ctx, []int64{sequenceNumber}, nil)
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%w: %s seq %d", ErrMessageNotFound, q.name, sequenceNumber)
	}
	return fmt.Errorf("broker: cancel seq %d on %s: %w", sequenceNumber, q.name, err)
}

// Send enqueues msg for immediate delivery.
func (q *ServiceBusQueue) Send(ctx context.Context, msg types.OutboundMessage) error {
	if err := q.sender.SendMessage(ctx, outboundToSDK(msg), nil); err != nil {
		return fmt.Errorf("broker: send on %s: %w", q.name, err)
	}
	return nil
}

// ReceiveAndComplete drains up to maxCount active messages, completing each.
// The wait duration bounds the receive; hitting it with fewer (or zero)
// messages is a normal outcome, not an error.
func (q *ServiceBusQueue) ReceiveAndComplete(ctx context.Context, maxCount int, wait time.Duration) ([]types.QueueRecord, error) {
	recvCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	msgs, err := q.receiver.ReceiveMessages(recvCtx, maxCount, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("broker: receive on %s: %w", q.name, err)
	}

	records := make([]types.QueueRecord, 0, len(msgs))
	for _, m := range msgs {
		// Completion must use the parent context: the receive deadline may
		// already have fired by the time the batch is acknowledged.
		if err := q.receiver.CompleteMessage(ctx, m, nil); err != nil {
			q.logger.WarnContext(ctx, "failed to complete received message",
				"queue", q.name,
				"message_id", m.MessageID,
				"error", err,
			)
			continue
		}
		records = append(records, recordFromReceived(m))
	}
	return records, nil
}

// recordFromReceived converts an SDK message into the engine's peek record.
// The correlation id is the order identity; messages produced outside this
// system may only carry a message id, which is used as a fallback.
func recordFromReceived(m *azservicebus.ReceivedMessage) types.QueueRecord {
	rec := types.QueueRecord{
		OrderID:               m.MessageID,
		Payload:               m.Body,
		ApplicationProperties: m.ApplicationProperties,
	}
	if m.SequenceNumber != nil {
		rec.SequenceNumber = *m.SequenceNumber
	}
	if m.CorrelationID != nil && *m.CorrelationID != "" {
		rec.OrderID = *m.CorrelationID
	}
	if m.ContentType != nil {
		rec.ContentType = *m.ContentType
	}
	if m.ScheduledEnqueueTime != nil && !m.ScheduledEnqueueTime.IsZero() {
		t := m.ScheduledEnqueueTime.UTC()
		rec.ScheduledFor = &t
	}
	return rec
}

// outboundToSDK builds the SDK message for an outbound envelope.
func outboundToSDK(msg types.OutboundMessage) *azservicebus.Message {
	m := &azservicebus.Message{
		Body:                  msg.Body,
		ApplicationProperties: msg.ApplicationProperties,
	}
	if msg.OrderID != "" {
		id := msg.OrderID
		m.MessageID = &id
		m.CorrelationID = &id
	}
	if msg.ContentType != "" {
		ct := msg.ContentType
		m.ContentType = &ct
	}
	return m
}

// isNotFound reports whether err indicates the scheduled message is gone.
// The service signals this via an AMQP "message not found" condition, which
// the SDK does not surface as a typed code, so the condition string is
// matched as a fallback.
func isNotFound(err error) bool {
	var sbErr *azservicebus.Error
	if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeNotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "message-not-found") || strings.Contains(msg, "messagenotfound")
}
