package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes bridge records keyed by symbol, so one symbol always
// lands on the same partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}, nil
}

func (k *KafkaSink) Export(ctx context.Context, r BridgeRecord) error {
	v, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(r.Symbol), Value: v, Time: r.ExportedAt}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", r.Symbol, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
