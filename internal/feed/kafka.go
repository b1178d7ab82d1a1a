package feed

import (
	"context"

	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/msg"
)

// KafkaSource reads ticks from a Kafka topic. Reconnect and redelivery are
// handled by the consumer group protocol.
type KafkaSource struct {
	consumer *msg.Consumer
}

// NewKafkaSource creates a source consuming the market ticks topic
func NewKafkaSource(cfg *msg.Config, group string, logger *zap.Logger) (*KafkaSource, error) {
	consumer, err := msg.NewConsumer(cfg, group, []string{msg.TopicMarketTicks}, logger)
	if err != nil {
		return nil, err
	}
	return &KafkaSource{consumer: consumer}, nil
}

// Run delivers tick payloads to handler until the context is canceled
func (s *KafkaSource) Run(ctx context.Context, handler func(context.Context, []byte) error) error {
	return s.consumer.Run(ctx, func(ctx context.Context, rec msg.Record) error {
		return handler(ctx, rec.Value)
	})
}

// Close closes the underlying consumer
func (s *KafkaSource) Close() error {
	s.consumer.Close()
	return nil
}
