package notify

import (
	"context"
	"time"
)

// Message is one outbound one-time code.
type Message struct {
	Channel   string        `json:"channel"`
	Recipient string        `json:"recipient"`
	Purpose   string        `json:"purpose"`
	Code      string        `json:"code"`
	ExpiresIn time.Duration `json:"expiresIn"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Sender delivers codes to the user. Delivery itself (mail, SMS gateway) is
// owned by another service.
type Sender interface {
	SendCode(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) SendCode(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
