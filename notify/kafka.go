package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes codes to a topic consumed by the mail/SMS service.
// Messages are keyed by recipient so codes for one user stay ordered.
type KafkaSender struct {
	writer messageWriter
}

// NewKafkaSender creates a synchronous writer with all-replica acks.
func NewKafkaSender(brokers []string, topic string) (*KafkaSender, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sender requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka sender requires a topic")
	}
	return &KafkaSender{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}, nil
}

func (s *KafkaSender) SendCode(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Channel + ":" + msg.Recipient),
		Value: data,
		Headers: []kafka.Header{
			{Key: "purpose", Value: []byte(msg.Purpose)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka: write failed: %w", err)
	}
	return nil
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
