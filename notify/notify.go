// Package notify delivers out-of-band messages (confirmation links) to users.
package notify

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"

	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

// Message is a plain-text mail.
type Message struct {
	To      string
	Subject string
	Text    string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPNotifier sends mail through an SMTP relay. A send that outlives the timeout
// fails with UpstreamUnavailable; the dial itself is abandoned, not cancelled.
type SMTPNotifier struct {
	dialer  mailSender
	from    string
	timeout time.Duration
}

func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, errors.New("[notify.NewSMTPNotifier] SMTP host and port are required")
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return newSMTPNotifier(dialer, from, cfg.Timeout), nil
}

func newSMTPNotifier(dialer mailSender, from string, timeout time.Duration) *SMTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTPNotifier{dialer: dialer, from: from, timeout: timeout}
}

func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return apperrors.Validation("No recipient specified")
	}
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- n.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Err(err).Str("to", msg.To).Msg("mail delivery failed")
			return apperrors.Upstream("Could not send email", err)
		}
		return nil
	case <-ctx.Done():
		log.Warn().Str("to", msg.To).Dur("timeout", n.timeout).Msg("mail delivery timed out")
		return apperrors.Upstream("Could not send email", ctx.Err())
	}
}

// LogNotifier writes messages to the log instead of sending them. Used when no SMTP
// account is configured in development.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg Message) error {
	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Str("text", msg.Text).Msg("mail (not sent)")
	return nil
}
