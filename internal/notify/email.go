package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomail "gopkg.in/mail.v2"
)

// EmailConfig holds SMTP configuration for sending briefings.
type EmailConfig struct {
	SMTPServer string
	SMTPPort   int
	SMTPUser   string
	SMTPPass   string
	FromEmail  string
	ToEmail    string
}

// Enabled reports whether enough is configured to send mail.
func (c EmailConfig) Enabled() bool {
	return c.SMTPServer != "" && c.FromEmail != "" && c.ToEmail != ""
}

// EmailNotifier delivers briefings via SMTP.
type EmailNotifier struct {
	cfg EmailConfig
	// send delivers a composed message; defaults to an SMTP dialer.
	send func(m *gomail.Message) error
}

// NewEmailNotifier returns nil when cfg is not enabled.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	if !cfg.Enabled() {
		return nil
	}
	n := &EmailNotifier{cfg: cfg}
	n.send = func(m *gomail.Message) error {
		dialer := gomail.NewDialer(cfg.SMTPServer, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		dialer.Timeout = 10 * time.Second
		return dialer.DialAndSend(m)
	}
	return n
}

// Name returns "email".
func (n *EmailNotifier) Name() string { return "email" }

// messageID is also the delivery marker.
func (n *EmailNotifier) messageID(msg *Message) string {
	domain := "rivalops.local"
	if at := strings.LastIndex(n.cfg.FromEmail, "@"); at >= 0 && at < len(n.cfg.FromEmail)-1 {
		domain = n.cfg.FromEmail[at+1:]
	}
	return fmt.Sprintf("<briefing-%s@%s>", msg.BriefingID, domain)
}

// Compose builds the mail for msg.
func (n *EmailNotifier) Compose(msg *Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", strings.Split(n.cfg.ToEmail, ",")...)
	m.SetHeader("Subject", fmt.Sprintf("[RivalOps] %s", msg.Title))
	m.SetHeader("Message-ID", n.messageID(msg))

	var body strings.Builder
	body.WriteString(msg.Title + "\n\n")
	if msg.RiskLevel != "" {
		body.WriteString(fmt.Sprintf("Risk level: %s\n\n", msg.RiskLevel))
	}
	if msg.Summary != "" {
		body.WriteString(msg.Summary + "\n\n")
	}
	if msg.Details != "" {
		body.WriteString(msg.Details + "\n\n")
	}
	body.WriteString("Open in RivalOps: " + msg.Link + "\n")
	m.SetBody("text/plain", body.String())
	return m
}

// Send mails msg and returns its Message-ID.
func (n *EmailNotifier) Send(ctx context.Context, msg *Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m := n.Compose(msg)
	if err := n.send(m); err != nil {
		return "", fmt.Errorf("failed to send email to %s: %w", n.cfg.ToEmail, err)
	}
	return n.messageID(msg), nil
}
