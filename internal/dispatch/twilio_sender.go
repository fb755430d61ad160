package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/ayursutra/scheduler/internal/db"
)

// messageCreator is the slice of the Twilio REST client we call.
// Satisfied by (*twilio.RestClient).Api; faked in tests.
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioSender delivers SMS and WhatsApp reminders through the Twilio
// messaging gateway. WhatsApp is available only when a WhatsApp sender
// identity is configured.
type TwilioSender struct {
	api          messageCreator
	smsFrom      string
	whatsappFrom string
	logger       *zap.Logger
}

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	SMSFrom      string
	WhatsAppFrom string
}

func NewTwilioSender(cfg TwilioConfig, logger *zap.Logger) (*TwilioSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials not configured")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioSender{
		api:          client.Api,
		smsFrom:      cfg.SMSFrom,
		whatsappFrom: cfg.WhatsAppFrom,
		logger:       logger,
	}, nil
}

// HasWhatsApp reports whether a WhatsApp sender identity is configured.
func (s *TwilioSender) HasWhatsApp() bool {
	return s.whatsappFrom != ""
}

// Send delivers one SMS or WhatsApp message. The Twilio message SID is
// returned as the provider message id; later delivery-status callbacks
// are correlated against it.
func (s *TwilioSender) Send(ctx context.Context, req SendRequest) (*Receipt, error) {
	if !s.SupportsChannel(req.Channel) {
		return nil, fmt.Errorf("twilio sender does not support channel: %s", req.Channel)
	}
	if req.To == "" {
		return nil, fmt.Errorf("message send missing phone number")
	}
	if req.Body == "" {
		return nil, fmt.Errorf("message send missing body")
	}

	to := req.To
	from := s.smsFrom
	if req.Channel == db.ChannelWhatsApp {
		to = "whatsapp:" + to
		from = "whatsapp:" + s.whatsappFrom
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(req.Body)

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		return nil, fmt.Errorf("twilio send failed: %w", err)
	}

	sid := ""
	if msg.Sid != nil {
		sid = *msg.Sid
	}

	raw, marshalErr := json.Marshal(msg)
	if marshalErr != nil {
		raw = []byte("{}")
	}

	s.logger.Info("message sent via twilio",
		zap.String("channel", req.Channel),
		zap.String("to", to),
		zap.String("message_sid", sid),
	)

	return &Receipt{
		ProviderMessageID: sid,
		RawResponse:       string(raw),
	}, nil
}

// SupportsChannel checks if this sender covers the channel
func (s *TwilioSender) SupportsChannel(channel string) bool {
	switch channel {
	case db.ChannelSMS:
		return s.smsFrom != ""
	case db.ChannelWhatsApp:
		return s.HasWhatsApp()
	default:
		return false
	}
}
