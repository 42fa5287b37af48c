package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/openexch/simex/pkg/messaging"
)

// FillConsumer consumes the fill stream from Kafka. It exists for
// development convenience: it tails the topic and hands each decoded
// message to a callback.
type FillConsumer struct {
	consumer sarama.Consumer
	topic    string
}

// NewFillConsumer connects a sarama consumer to the broker.
func NewFillConsumer(brokerAddr, topic string) (*FillConsumer, error) {
	consumer, err := sarama.NewConsumer([]string{brokerAddr}, nil)
	if err != nil {
		return nil, err
	}
	return &FillConsumer{consumer: consumer, topic: topic}, nil
}

// Consume tails all partitions from the newest offset until the
// context is cancelled, invoking handle per decoded message.
func (c *FillConsumer) Consume(ctx context.Context, handle func(*messaging.FillMessage) error) error {
	partitions, err := c.consumer.Partitions(c.topic)
	if err != nil {
		return err
	}

	msgs := make(chan *sarama.ConsumerMessage)
	for _, p := range partitions {
		pc, err := c.consumer.ConsumePartition(c.topic, p, sarama.OffsetNewest)
		if err != nil {
			return err
		}
		go func(pc sarama.PartitionConsumer) {
			defer pc.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case m := <-pc.Messages():
					msgs <- m
				}
			}
		}(pc)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-msgs:
			var fill messaging.FillMessage
			if err := json.Unmarshal(m.Value, &fill); err != nil {
				continue
			}
			if err := handle(&fill); err != nil {
				return err
			}
		}
	}
}

// Close closes the underlying consumer.
func (c *FillConsumer) Close() error {
	return c.consumer.Close()
}

// SetupConsumer starts a background consumer that pretty-prints the
// fill stream through the given logger. Failure to reach Kafka is not
// fatal; the server simply runs without the stream tail.
func SetupConsumer(ctx context.Context, logger zerolog.Logger, brokerAddr, topic string) (*FillConsumer, error) {
	consumer, err := NewFillConsumer(brokerAddr, topic)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to create Kafka consumer - continuing without fill stream tail")
		return nil, err
	}

	go func() {
		logger.Info().Str("topic", topic).Msg("Starting Kafka fill consumer")
		err := consumer.Consume(ctx, func(msg *messaging.FillMessage) error {
			logger.Info().
				Str("order_id", msg.OrderID).
				Str("instrument", msg.Instrument).
				Str("side", msg.Side).
				Int64("quantity", msg.Quantity).
				Str("price", msg.Price).
				Uint64("seq", msg.Seq).
				Str("role", msg.Role).
				Str("state", msg.State).
				Msg("Fill published")
			return nil
		})
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("Kafka consumer error")
		}
	}()

	return consumer, nil
}
