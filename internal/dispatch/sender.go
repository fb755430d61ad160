// Package dispatch selects a delivery channel per recipient, performs
// the outbound send with one retry, records the outcome on the stored
// notification, and reconciles asynchronous provider status callbacks.
package dispatch

import "context"

// Contact carries the delivery addresses known for one recipient.
type Contact struct {
	Email string
	Phone string
}

// SendRequest is one outbound delivery attempt.
type SendRequest struct {
	Channel string
	To      string // email address or normalized phone number
	Subject string
	Body    string
}

// Receipt is what a gateway hands back for audit: its message id for
// later status correlation plus the raw response.
type Receipt struct {
	ProviderMessageID string
	RawResponse       string
}

// Sender is the unified interface over delivery gateways.
// Implementations: email (SES), SMS/WhatsApp (Twilio).
type Sender interface {
	Send(ctx context.Context, req SendRequest) (*Receipt, error)
	SupportsChannel(channel string) bool
}
