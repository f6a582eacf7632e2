// Package mailer sends transactional email.
package mailer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// Message is a single outgoing email.
type Message struct {
	ToName  string
	ToEmail string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SendGrid delivers mail through the SendGrid v3 API.
type SendGrid struct {
	client   *sendgrid.Client
	fromName string
	from     string
}

// NewSendGrid creates a SendGrid mailer.
func NewSendGrid(apiKey, fromName, from string) *SendGrid {
	return &SendGrid{client: sendgrid.NewSendClient(apiKey), fromName: fromName, from: from}
}

func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	m := sgmail.NewSingleEmail(
		sgmail.NewEmail(s.fromName, s.from),
		msg.Subject,
		sgmail.NewEmail(msg.ToName, msg.ToEmail),
		msg.Text,
		msg.HTML,
	)
	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return errors.Wrap(err, "sendgrid send")
	}
	if resp.StatusCode >= 300 {
		return errors.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// Log writes messages to the logger instead of sending them. Used when no
// mail provider is configured.
type Log struct {
	log *zap.Logger
}

// NewLog creates a logging mailer.
func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (l *Log) Send(_ context.Context, msg Message) error {
	l.log.Info("mail not sent, no provider configured",
		zap.String("to", msg.ToEmail),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.Text)),
	)
	return nil
}
