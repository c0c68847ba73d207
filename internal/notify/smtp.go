package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strings"

	"subwatch/pkg/logx"
)

// SMTPConfig configures the mail transport.
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
	StartTLS bool
}

// SMTPNotifier is the default Notifier: a thin synchronous SMTP client that
// sends one plain-text reminder per call.
type SMTPNotifier struct {
	cfg SMTPConfig
	log logx.Logger
}

func NewSMTP(cfg SMTPConfig, log logx.Logger) (*SMTPNotifier, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("smtp addr is required")
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("smtp from address: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SMTPNotifier{cfg: cfg, log: log}, nil
}

func (n *SMTPNotifier) SendReminder(ctx context.Context, contactEmail string, p Payload) error {
	addr, err := mail.ParseAddress(contactEmail)
	if err != nil {
		return TerminalError(fmt.Errorf("recipient %q: %w", contactEmail, err))
	}

	msg := buildMessage(n.cfg.From, addr.Address, p)
	if err := n.send(ctx, addr.Address, msg); err != nil {
		return err
	}
	n.log.Debug("reminder mail sent",
		logx.String("to", addr.Address),
		logx.String("subscription", p.SubscriptionName),
		logx.Int("days_until", p.DaysUntilRenewal))
	return nil
}

// send speaks SMTP over a context-dialed connection so the caller's timeout
// actually bounds the network work (net/smtp.SendMail cannot be canceled).
func (n *SMTPNotifier) send(ctx context.Context, to string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", n.cfg.Addr)
	if err != nil {
		return RetryableError(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	host, _, _ := net.SplitHostPort(n.cfg.Addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return RetryableError(err)
	}
	defer c.Close()

	if n.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return RetryableError(err)
			}
		}
	}
	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, host)
		if err := c.Auth(auth); err != nil {
			return RetryableError(err)
		}
	}

	if err := c.Mail(n.cfg.From); err != nil {
		return RetryableError(err)
	}
	if err := c.Rcpt(to); err != nil {
		// A rejected recipient will not succeed on retry.
		return TerminalError(err)
	}
	w, err := c.Data()
	if err != nil {
		return RetryableError(err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return RetryableError(err)
	}
	if err := w.Close(); err != nil {
		return RetryableError(err)
	}
	// The server accepted the message once DATA closed cleanly. A failed
	// QUIT must not be reported as a send failure or the caller would
	// retry and deliver a duplicate.
	_ = c.Quit()
	return nil
}

func buildMessage(from, to string, p Payload) []byte {
	name := p.DisplayName
	if name == "" {
		name = "there"
	}
	amount := fmt.Sprintf("%d.%02d %s", p.AmountMinor/100, p.AmountMinor%100, p.Currency)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	switch p.DaysUntilRenewal {
	case 0:
		fmt.Fprintf(&b, "Subject: %s renews today\r\n", p.SubscriptionName)
	case 1:
		fmt.Fprintf(&b, "Subject: %s renews tomorrow\r\n", p.SubscriptionName)
	default:
		fmt.Fprintf(&b, "Subject: %s renews in %d days\r\n", p.SubscriptionName, p.DaysUntilRenewal)
	}
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Hi %s,\r\n\r\n", name)
	fmt.Fprintf(&b, "Your %s subscription (%s) renews on %s.\r\n",
		p.SubscriptionName, amount, p.RenewalDate.Format("Monday, 2 January 2006"))
	if p.ManageURL != "" {
		fmt.Fprintf(&b, "\r\nManage: %s\r\n", p.ManageURL)
	}
	if p.CancelURL != "" {
		fmt.Fprintf(&b, "Cancel: %s\r\n", p.CancelURL)
	}
	return []byte(b.String())
}
