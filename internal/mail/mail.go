// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package mail delivers account e-mails. Only a logging implementation is
// provided; production deployments plug in their own Mailer.
package mail

import (
	"context"
	"log/slog"
	"net/mail"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Mailer sends account e-mails.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

// Message is a delivered e-mail as seen by an Outbox.
type Message struct {
	To     string
	Kind   string
	Link   string
	SentAt time.Time
}

// KindPasswordReset labels password reset messages.
const KindPasswordReset = "password-reset"

// Outbox collects delivered messages in memory. It is safe for concurrent use.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

// Deliver appends msg.
func (o *Outbox) Deliver(msg Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
}

// Messages returns a copy of everything delivered so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

// Last returns the most recent message.
func (o *Outbox) Last() (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.messages) == 0 {
		return Message{}, false
	}
	return o.messages[len(o.messages)-1], true
}

// LogMailer logs each send and, if Outbox is set, records the message there.
// The link is never logged.
type LogMailer struct {
	Logger *slog.Logger
	Outbox *Outbox
	Now    func() time.Time
}

// NewLogMailer creates a LogMailer. A nil logger uses slog.Default().
func NewLogMailer(logger *slog.Logger, outbox *Outbox) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{Logger: logger, Outbox: outbox, Now: time.Now}
}

// SendPasswordReset implements Mailer.
func (m *LogMailer) SendPasswordReset(ctx context.Context, to, link string) error {
	if _, err := mail.ParseAddress(to); err != nil {
		return oops.Code("MAIL_INVALID_RECIPIENT").Wrap(err)
	}
	if link == "" {
		return oops.Code("MAIL_EMPTY_LINK").Errorf("reset link cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_CANCELED").Wrap(err)
	}

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	if m.Outbox != nil {
		m.Outbox.Deliver(Message{To: to, Kind: KindPasswordReset, Link: link, SentAt: now()})
	}
	m.Logger.InfoContext(ctx, "password reset e-mail sent", "to", to, "kind", KindPasswordReset)
	return nil
}
