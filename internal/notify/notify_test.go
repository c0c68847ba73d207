package notify

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"subwatch/pkg/logx"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()
	if !IsRetryable(RetryableError(errors.New("timeout"))) {
		t.Fatal("retryable error misclassified")
	}
	if IsRetryable(TerminalError(errors.New("bad address"))) {
		t.Fatal("terminal error misclassified")
	}
	// Unclassified errors default to retryable.
	if !IsRetryable(errors.New("mystery")) {
		t.Fatal("unclassified error should be retryable")
	}
	if IsRetryable(nil) {
		t.Fatal("nil error is not retryable")
	}

	var se *SendError
	wrapped := RetryableError(errors.New("inner"))
	if !errors.As(wrapped, &se) || !se.Retryable {
		t.Fatal("expected unwrap to *SendError")
	}
}

func TestSMTPRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	if _, err := NewSMTP(SMTPConfig{From: "billing@example.com"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing addr")
	}
	if _, err := NewSMTP(SMTPConfig{Addr: "mail:25", From: "not-an-address"}, logx.Nop()); err == nil {
		t.Fatal("expected error for bad from address")
	}
}

func TestSendReminderInvalidRecipientIsTerminal(t *testing.T) {
	t.Parallel()
	n, err := NewSMTP(SMTPConfig{Addr: "127.0.0.1:2525", From: "billing@example.com"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	err = n.SendReminder(context.Background(), "<<broken", Payload{SubscriptionName: "MusicCloud"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Fatal("invalid recipient must be terminal")
	}
}

// acceptThenDropServer speaks just enough SMTP to accept one message, then
// slams the connection shut on QUIT instead of answering 221.
func acceptThenDropServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

		reply("220 mail.test ready")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			switch cmd := strings.ToUpper(strings.TrimSpace(line)); {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 mail.test")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 OK")
			case cmd == "DATA":
				reply("354 go ahead")
				for {
					body, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if strings.TrimRight(body, "\r\n") == "." {
						break
					}
				}
				reply("250 accepted")
			case cmd == "QUIT":
				return
			default:
				reply("250 OK")
			}
		}
	}()
	return ln.Addr().String()
}

func TestSendReminderSucceedsWhenQuitFails(t *testing.T) {
	t.Parallel()
	addr := acceptThenDropServer(t)
	n, err := NewSMTP(SMTPConfig{Addr: addr, From: "billing@example.com"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The server accepted the message body; a QUIT failure after that must
	// not bubble up, or the scheduler would retry and send a duplicate.
	err = n.SendReminder(ctx, "user@example.com", Payload{
		SubscriptionName: "MusicCloud",
		AmountMinor:      999,
		Currency:         "EUR",
		RenewalDate:      time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		DaysUntilRenewal: 7,
	})
	if err != nil {
		t.Fatalf("SendReminder after accepted DATA: %v", err)
	}
}

func TestBuildMessage(t *testing.T) {
	t.Parallel()
	p := Payload{
		DisplayName:      "Alex",
		SubscriptionName: "MusicCloud",
		AmountMinor:      999,
		Currency:         "EUR",
		RenewalDate:      time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		DaysUntilRenewal: 7,
		ManageURL:        "https://app.example.com/subs/1",
	}
	msg := string(buildMessage("billing@example.com", "user@example.com", p))
	for _, want := range []string{
		"Subject: MusicCloud renews in 7 days",
		"Hi Alex,",
		"9.99 EUR",
		"Friday, 15 March 2024",
		"https://app.example.com/subs/1",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}

	p.DaysUntilRenewal = 1
	msg = string(buildMessage("billing@example.com", "user@example.com", p))
	if !strings.Contains(msg, "renews tomorrow") {
		t.Fatalf("expected tomorrow subject:\n%s", msg)
	}
}
