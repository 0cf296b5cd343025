package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes codes to the log. For local development only.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendCode(_ context.Context, msg Message) error {
	s.logger.Info("one-time code",
		zap.String("channel", msg.Channel),
		zap.String("recipient", msg.Recipient),
		zap.String("purpose", msg.Purpose),
		zap.String("code", msg.Code),
		zap.Duration("expires_in", msg.ExpiresIn),
	)
	return nil
}
