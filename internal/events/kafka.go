package events

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher writes asynchronously; delivery errors are logged from
// the writer's completion callback. Messages are keyed by account id so the
// events of one account stay ordered within a partition.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = TopicTransactionCommitted
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					zap.L().Error("Failed to deliver ledger events",
						zap.Int("count", len(messages)), zap.Error(err))
				}
			},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...TransactionCommitted) error {
	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := newMessage(event)
		if err != nil {
			return err
		}
		messages = append(messages, msg)
	}

	return p.writer.WriteMessages(ctx, messages...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func newMessage(event TransactionCommitted) (kafka.Message, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Key:   []byte(strconv.FormatInt(event.AccountID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("transaction_committed")},
			{Key: "correlation_id", Value: []byte(event.CorrelationID)},
		},
	}, nil
}
