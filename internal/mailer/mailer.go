// Package mailer sends document PDFs to clients over SMTP.
package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/smtp"

	"github.com/jordan-wright/email"

	"kesefly/internal/log"
)

var ErrNoRecipient = errors.New("recipient has no e-mail address")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Enabled reports whether enough is configured to send.
func (c Config) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// Attachment is one file sent with a message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is a plain-text mail with PDF attachments.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

type Mailer struct {
	cfg    Config
	logger *log.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

func New(cfg Config, logger *log.Logger) *Mailer {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	return &Mailer{
		cfg:    cfg,
		logger: logger.WithComponent(log.ComponentMail),
		send:   func(e *email.Email, addr string, auth smtp.Auth) error { return e.Send(addr, auth) },
	}
}

func (m *Mailer) build(msg Message) (*email.Email, error) {
	if msg.To == "" {
		return nil, ErrNoRecipient
	}
	e := email.NewEmail()
	e.From = m.cfg.From
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)
	for _, a := range msg.Attachments {
		if _, err := e.Attach(bytes.NewReader(a.Content), a.Filename, "application/pdf"); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Filename, err)
		}
	}
	return e, nil
}

// Send delivers msg. Auth is skipped when no username is configured.
func (m *Mailer) Send(msg Message) error {
	e, err := m.build(msg)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(e, net.JoinHostPort(m.cfg.Host, m.cfg.Port), auth); err != nil {
		m.logger.Error("Failed to send e-mail",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork,
			"subject", msg.Subject)
		return fmt.Errorf("failed to send e-mail: %w", err)
	}
	m.logger.Info("E-mail sent", "subject", msg.Subject, "attachments", len(msg.Attachments))
	return nil
}
