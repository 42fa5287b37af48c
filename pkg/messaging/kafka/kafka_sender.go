package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/openexch/simex/pkg/messaging"
)

// KafkaFillSender implements messaging.FillSender using a kafka-go
// writer. Messages are keyed by order ID so fills for one order stay
// in partition order.
type KafkaFillSender struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaFillSender creates a new Kafka fill sender.
func NewKafkaFillSender(brokerAddr, topic string) (*KafkaFillSender, error) {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerAddr),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &KafkaFillSender{
		writer: writer,
		topic:  topic,
	}, nil
}

// SendFillMessage publishes a fill to Kafka.
func (k *KafkaFillSender) SendFillMessage(ctx context.Context, msg *messaging.FillMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal fill message: %w", err)
	}

	kafkaMsg := kafka.Message{
		Key:   []byte(msg.OrderID),
		Value: data,
		Time:  time.Now(),
	}

	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(sendCtx, kafkaMsg); err != nil {
		return fmt.Errorf("failed to send fill message to Kafka: %w", err)
	}
	return nil
}

// Close closes the Kafka writer.
func (k *KafkaFillSender) Close() error {
	return k.writer.Close()
}

var _ messaging.FillSender = (*KafkaFillSender)(nil)
