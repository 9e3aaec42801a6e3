package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"waste-auth-service/internal/config"
	"waste-auth-service/internal/util"
)

// EmailSender delivers mail through the configured SMTP relay. Messages with
// an HTML body are sent as multipart/alternative.
type EmailSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func NewEmailSender(cfg *config.Config) *EmailSender {
	return &EmailSender{
		host:     cfg.Notify.SMTPHost,
		port:     cfg.Notify.SMTPPort,
		username: cfg.Notify.SMTPUsername,
		password: cfg.Notify.SMTPPassword,
		from:     cfg.Notify.EmailFrom,
	}
}

func (s *EmailSender) Channel() string {
	return ChannelEmail
}

func (s *EmailSender) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	payload := s.buildPayload(msg)

	if err := smtp.SendMail(addr, auth, s.from, []string{msg.Recipient}, payload); err != nil {
		util.Error("SMTP delivery failed",
			zap.String("relay", addr),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	util.Debug("Email delivered", zap.String("relay", addr))
	return nil
}

func (s *EmailSender) buildPayload(msg Message) []byte {
	var b strings.Builder

	b.WriteString("From: " + s.from + "\r\n")
	b.WriteString("To: " + msg.Recipient + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.HTMLBody == "" {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.Body)
		return []byte(b.String())
	}

	const boundary = "waste-auth-boundary"
	b.WriteString("Content-Type: multipart/alternative; boundary=" + boundary + "\r\n\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.Body + "\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.HTMLBody + "\r\n")

	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}
