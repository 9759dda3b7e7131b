// Package mail defines the outbound mail collaborator and the messages the
// engine sends. Delivery itself is external; LogMailer is the bundled
// implementation for development.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a plain-text mail.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Mailer delivers messages. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to [Mailer].
type MailerFunc func(ctx context.Context, msg Message) error

func (f MailerFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Welcome is sent after a successful registration.
func Welcome(to string) Message {
	return Message{
		To:      to,
		Subject: "Register successfully",
		Text:    "You have successfully registered. Thank you for joining us.",
	}
}

// ResetCode carries a forgot-password code.
func ResetCode(to, code string, validFor string) Message {
	return Message{
		To:      to,
		Subject: "Forgot password",
		Text:    fmt.Sprintf("Your code is %s. Please use this code to reset your password. This code will expire in %s.", code, validFor),
	}
}

// TemporaryPassword carries the password set by a confirmed reset.
func TemporaryPassword(to, password string) Message {
	return Message{
		To:      to,
		Subject: "Reset password",
		Text:    fmt.Sprintf("Your new password is %s. Please use this password to login.", password),
	}
}

// LogMailer logs the recipient and subject of every message instead of
// delivering it. Bodies are not logged since they carry secrets.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "mail queued", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Outbox records messages in memory. It is meant for tests and demos.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Last returns the most recent message sent to to.
func (o *Outbox) Last(to string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].To == to {
			return o.messages[i], true
		}
	}
	return Message{}, false
}
