package portalauth

import (
	"io"

	internalaudit "github.com/MrEthical07/portalauth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant occurrence.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the Engine's async dispatcher. Emit
// runs on the dispatcher goroutine, never on the request path.
type AuditSink = internalaudit.Sink

type (
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
	ZapSink        = internalaudit.ZapSink
	KafkaAuditSink = internalaudit.KafkaSink
	// MultiSink fans every event out to each of its sinks.
	MultiSink      = internalaudit.MultiSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapSink logs audit events through logger under the "audit" name.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}

// NewKafkaAuditSink publishes audit events to topic, keyed by principal id.
// Close it after the Engine.
func NewKafkaAuditSink(brokers []string, topic string, logger *zap.Logger) (*KafkaAuditSink, error) {
	return internalaudit.NewKafkaSink(brokers, topic, logger)
}
