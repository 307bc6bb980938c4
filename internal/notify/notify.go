// Package notify sends transactional email such as new-login notifications.
package notify

import (
	"context"
	"log"
	"time"
)

// sendTimeout bounds a single async send.
const sendTimeout = 15 * time.Second

// LoginNotice describes a successful sign-in for the account owner.
type LoginNotice struct {
	Email     string
	Name      string
	IPAddress string
	UserAgent string
	At        time.Time
}

// Sender delivers login notifications.
type Sender interface {
	SendLoginNotification(ctx context.Context, notice LoginNotice) error
}

// SendAsync sends notice in a detached goroutine so the login response is not delayed.
// Failures are logged. A nil sender is a no-op.
func SendAsync(sender Sender, notice LoginNotice) {
	if sender == nil || notice.Email == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := sender.SendLoginNotification(ctx, notice); err != nil {
			log.Printf("notify: login notification failed: %v", err)
		}
	}()
}

// LogSender logs notifications instead of sending them. Used in development when no mail API is configured.
type LogSender struct{}

// SendLoginNotification logs the recipient and request metadata.
func (LogSender) SendLoginNotification(_ context.Context, n LoginNotice) error {
	log.Printf("notify: login notification to=%s ip=%s at=%s", n.Email, n.IPAddress, n.At.UTC().Format(time.RFC3339))
	return nil
}
