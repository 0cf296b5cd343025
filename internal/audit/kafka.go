package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a topic keyed by principal id, so one
// principal's history lands on one partition in order. Write failures are
// logged and the event is lost.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
	logger  *zap.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("audit kafka sink requires brokers and a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaSink(w, logger), nil
}

func newKafkaSink(w messageWriter, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{writer: w, timeout: 5 * time.Second, logger: logger.Named("audit.kafka")}
}

func (s *KafkaSink) Emit(ctx context.Context, event Event) {
	value, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal audit event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.PrincipalID),
		Value:   value,
		Time:    event.Timestamp,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(event.EventType)}},
	})
	if err != nil {
		s.logger.Warn("publish audit event",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
