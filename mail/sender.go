// Package mail implements the optional email fan-out for Marlin's
// reporting component (spec.md §4.J / component J: report.Reporter's
// Notify hook). Marlin itself has no user or account domain to send
// mail about; this package exists purely as a collaborator an
// operator can wire in so an Alert-severity report.Record also goes
// out as an email, the way report.Options.Notify documents.
//
// Grounded on the teacher's mail.Sender/SMTPSender/DevSender trio,
// trimmed of its Buffalo-specific preview route (buffalo.Context /
// render.Data): Marlin has no server-rendered UI for a preview page to
// hang off of.
package mail

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"time"
)

// Message represents an email message.
type Message struct {
	From    string   // Optional, uses default if empty
	To      string   // Required recipient email
	Cc      []string // Optional CC recipients
	Bcc     []string // Optional BCC recipients
	Subject string   // Email subject
	Text    string   // Plain text body
	HTML    string   // HTML body (optional)
}

// Sender is the interface for sending emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Addr     string // Host:port (e.g., "smtp.gmail.com:587")
	User     string // SMTP username
	Password string // SMTP password
	From     string // Default sender email
}

// SMTPSender sends emails via SMTP.
type SMTPSender struct {
	config SMTPConfig
}

// NewSMTPSender creates a new SMTP sender.
func NewSMTPSender(config SMTPConfig) *SMTPSender {
	return &SMTPSender{config: config}
}

// Send sends an email via SMTP.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	from := msg.From
	if from == "" {
		from = s.config.From
	}
	if from == "" {
		from = s.config.User
	}

	recipients := []string{msg.To}
	recipients = append(recipients, msg.Cc...)
	recipients = append(recipients, msg.Bcc...)

	var headers strings.Builder
	headers.WriteString(fmt.Sprintf("From: %s\r\n", from))
	headers.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	if len(msg.Cc) > 0 {
		headers.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.Cc, ", ")))
	}
	headers.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	headers.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	headers.WriteString("MIME-Version: 1.0\r\n")

	var body string
	if msg.HTML != "" {
		headers.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
		body = msg.HTML
	} else {
		headers.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
		body = msg.Text
	}
	headers.WriteString("\r\n")
	fullMessage := headers.String() + body

	var auth smtp.Auth
	if s.config.User != "" && s.config.Password != "" {
		host := strings.Split(s.config.Addr, ":")[0]
		auth = smtp.PlainAuth("", s.config.User, s.config.Password, host)
	}

	if err := smtp.SendMail(s.config.Addr, auth, from, recipients, []byte(fullMessage)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Printf("Mail: Sent email to %s: %s", msg.To, msg.Subject)
	return nil
}

// DevSender logs emails instead of sending them (for development).
type DevSender struct {
	messages []Message
}

// NewDevSender creates a new development sender.
func NewDevSender() *DevSender {
	return &DevSender{messages: make([]Message, 0)}
}

// Send logs the email instead of sending it.
func (d *DevSender) Send(ctx context.Context, msg Message) error {
	log.Printf("Mail (Dev): Would send email to %s: %s", msg.To, msg.Subject)
	d.messages = append(d.messages, msg)
	return nil
}

// Messages returns every message handed to Send, for test assertions.
func (d *DevSender) Messages() []Message {
	return d.messages
}

// NoOpSender does nothing (for testing).
type NoOpSender struct{}

// Send does nothing.
func (n *NoOpSender) Send(ctx context.Context, msg Message) error {
	return nil
}

var globalSender Sender

// UseSender sets the global mail sender.
func UseSender(s Sender) {
	globalSender = s
}

// GetSender returns the current mail sender, defaulting to a DevSender
// so a Notify hook wired without explicit SMTP configuration logs
// instead of failing.
func GetSender() Sender {
	if globalSender == nil {
		return NewDevSender()
	}
	return globalSender
}

// Send sends an email using the global sender.
func Send(ctx context.Context, msg Message) error {
	return GetSender().Send(ctx, msg)
}
