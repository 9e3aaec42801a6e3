package notify

import (
	"context"
	"errors"
)

// Channel names match the OTP channel values.
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

var (
	ErrUnknownChannel = errors.New("unknown notification channel")
	ErrDeliveryFailed = errors.New("notification delivery failed")
)

// Message is a single outbound notification. Body carries the plain-text
// content; HTMLBody is optional and only used by the email sender.
type Message struct {
	Channel   string
	Recipient string
	Subject   string
	Body      string
	HTMLBody  string
}

// Sender delivers a message over one channel. Implementations must be safe
// for concurrent use.
type Sender interface {
	Deliver(ctx context.Context, msg Message) error
	Channel() string
}
