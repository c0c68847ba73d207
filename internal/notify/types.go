package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Payload carries the denormalized snapshot used for reminder content.
type Payload struct {
	DisplayName      string
	SubscriptionName string
	AmountMinor      int64
	Currency         string
	RenewalDate      time.Time
	DaysUntilRenewal int
	ManageURL        string
	CancelURL        string
}

// Notifier delivers one reminder synchronously. Implementations should
// honor ctx cancellation; the scheduler bounds each call with a timeout and
// records any error as a failed attempt.
type Notifier interface {
	SendReminder(ctx context.Context, contactEmail string, p Payload) error
}

// SendError classifies a delivery failure so the caller can decide whether
// an in-tick retry is worth attempting. Terminal failures (invalid address,
// rejected recipient) are recorded immediately; retryable ones (timeouts,
// transient SMTP errors) go through bounded backoff first.
type SendError struct {
	Retryable bool
	Err       error
}

func (e *SendError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("send failed (%s): %v", kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func RetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &SendError{Retryable: true, Err: err}
}

func TerminalError(err error) error {
	if err == nil {
		return nil
	}
	return &SendError{Retryable: false, Err: err}
}

// IsRetryable reports whether a failed send may succeed if repeated.
// Unclassified errors are treated as retryable: transient infrastructure
// trouble is far more common than a genuinely malformed reminder.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}
