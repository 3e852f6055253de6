package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const smtpTimeout = 15 * time.Second

// SMTPConfig параметры почтового сервера.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type sendMailFunc func(ctx context.Context, msg *mail.Msg) error

// EmailSender отправляет письма через SMTP.
type EmailSender struct {
	cfg  SMTPConfig
	send sendMailFunc
}

// NewEmailSender создаёт канал email.
func NewEmailSender(cfg SMTPConfig) *EmailSender {
	e := &EmailSender{cfg: cfg}
	e.send = e.dialAndSend
	return e
}

func (e *EmailSender) Name() string { return "email" }

func (e *EmailSender) Deliver(ctx context.Context, msg Message) error {
	if msg.Email == "" {
		return nil
	}
	if e.cfg.Host == "" {
		return errors.New("email: SMTP host is not configured")
	}

	m, err := buildMessage(e.cfg.From, msg.Email, msg.Subject, msg.Body)
	if err != nil {
		return fmt.Errorf("email: build message for %s: %w", msg.Email, err)
	}

	ctx, cancel := context.WithTimeout(ctx, smtpTimeout)
	defer cancel()
	if err := e.send(ctx, m); err != nil {
		return fmt.Errorf("email: send to %s: %w", msg.Email, err)
	}
	return nil
}

func (e *EmailSender) dialAndSend(ctx context.Context, m *mail.Msg) error {
	port, err := strconv.Atoi(e.cfg.Port)
	if err != nil {
		return fmt.Errorf("invalid SMTP port %q: %w", e.cfg.Port, err)
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(smtpTimeout),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if e.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.Username),
			mail.WithPassword(e.cfg.Password),
		)
	}
	client, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, m)
}

// buildMessage собирает письмо. Тема кодируется по RFC 2047.
func buildMessage(from, to, subject, body string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, err
	}
	if err := m.To(to); err != nil {
		return nil, err
	}
	m.Subject(sanitizeHeader(subject))
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
