package services

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"stock-sentinel/alerts"
)

// SMTPConfig holds the digest sender's connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers alert digests over SMTP.
type SMTPSender struct {
	config SMTPConfig
	send   func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a digest sender.
func NewSMTPSender(config SMTPConfig) *SMTPSender {
	return &SMTPSender{config: config, send: smtp.SendMail}
}

// SendDigest sends one email containing all of a user's alerts for the day.
func (s *SMTPSender) SendDigest(ctx context.Context, email string, items []alerts.Alert) error {
	if len(items) == 0 {
		return nil
	}

	msg := buildDigestMessage(s.config.From, email, items)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	_, err := WithCircuitBreaker(ctx, BreakerSMTP, func() (struct{}, error) {
		return struct{}{}, s.send(addr, auth, s.config.From, []string{email}, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to send digest to %s: %w", email, err)
	}
	return nil
}

// buildDigestMessage renders the plain-text digest body.
func buildDigestMessage(from, to string, items []alerts.Alert) []byte {
	var b strings.Builder

	subject := fmt.Sprintf("Watchlist alerts: %d signal", len(items))
	if len(items) > 1 {
		subject += "s"
	}

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")

	for i, a := range items {
		if i > 0 {
			b.WriteString("\r\n----------------------------------------\r\n\r\n")
		}
		fmt.Fprintf(&b, "%s\r\n\r\n", a.Headline)
		if a.WhatChanged != "" {
			fmt.Fprintf(&b, "What changed: %s\r\n", a.WhatChanged)
		}
		if a.WhyItMatters != "" {
			fmt.Fprintf(&b, "Why it matters: %s\r\n", a.WhyItMatters)
		}
		if a.BeforeVsNow != "" {
			fmt.Fprintf(&b, "Before vs now: %s\r\n", a.BeforeVsNow)
		}
		if a.WhatDidntChange != "" {
			fmt.Fprintf(&b, "What didn't change: %s\r\n", a.WhatDidntChange)
		}
	}

	return []byte(b.String())
}

// Compile-time interface verification
var _ alerts.Sender = (*SMTPSender)(nil)
