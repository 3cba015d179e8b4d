package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowmedic/flowmedic/pkg/config"
)

// Email sends plain-text alerts over SMTP. Port 465 uses implicit TLS;
// other ports negotiate STARTTLS when the server offers it.
type Email struct {
	cfg    config.EmailConfig
	logger zerolog.Logger
}

// NewEmail creates an email notifier.
func NewEmail(cfg config.EmailConfig, logger zerolog.Logger) *Email {
	return &Email{cfg: cfg, logger: logger}
}

func (e *Email) Name() string { return "email" }

// Send delivers the message to every configured recipient in one SMTP
// transaction.
func (e *Email) Send(ctx context.Context, msg Message) error {
	if len(e.cfg.To) == 0 {
		return fmt.Errorf("no email recipients configured")
	}

	addr := net.JoinHostPort(e.cfg.SMTPHost, strconv.Itoa(e.cfg.SMTPPort))
	body := e.render(msg)

	done := make(chan error, 1)
	go func() { done <- e.deliver(addr, body) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Email) deliver(addr string, body []byte) error {
	var client *smtp.Client
	var err error

	if e.cfg.SMTPPort == 465 {
		conn, dialErr := tls.Dial("tcp", addr, &tls.Config{ServerName: e.cfg.SMTPHost})
		if dialErr != nil {
			return fmt.Errorf("dial smtps %s: %w", addr, dialErr)
		}
		client, err = smtp.NewClient(conn, e.cfg.SMTPHost)
	} else {
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("connect smtp %s: %w", addr, err)
	}
	defer client.Close()

	if e.cfg.SMTPPort != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: e.cfg.SMTPHost}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if e.cfg.Username != "" {
		auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range e.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

func (e *Email) render(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Title)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
