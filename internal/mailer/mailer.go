package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"golang.org/x/time/rate"

	"greenthumb/pkg/logx"
)

// Sender is the outbound send capability the reminder core consumes.
// One call is one delivery attempt; retries are the caller's policy.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Config configures the SMTP mailer.
//
// RatePerSec caps outbound sends to stay under provider throttles; 0 picks a
// conservative default.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	RatePerSec int
}

// SMTP sends mail over a plain SMTP submission with AUTH.
// It is safe for concurrent use.
type SMTP struct {
	cfg     Config
	log     logx.Logger
	limiter *rate.Limiter

	// send is a seam for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(cfg Config, log logx.Logger) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mail host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if strings.TrimSpace(cfg.From) == "" {
		cfg.From = cfg.Username
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SMTP{
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		send:    smtp.SendMail,
	}, nil
}

func (m *SMTP) Send(ctx context.Context, to, subject, htmlBody string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("empty recipient")
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := buildMessage(m.cfg.From, to, subject, htmlBody)
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := m.send(addr, auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	m.log.Debug("mail sent", logx.String("to", to), logx.String("subject", subject))
	return nil
}

// buildMessage assembles an RFC 5322 message with an HTML body.
func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// sanitizeHeader strips CR/LF so a crafted subject can't inject headers.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
