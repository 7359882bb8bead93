// Package notify is the outbound e-mail boundary. State-changing services hand
// a Message to the Dispatcher after their write has committed; delivery errors
// are retried a few times, logged and counted, and never returned to callers.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"widesquare/apperr"
	"widesquare/metrics"
	"widesquare/retry"
)

// Message is a single e-mail to one or more recipients.
type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Sender delivers a message to the transport (queue, provider, log).
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher fans messages out to a Sender without surfacing failures.
type Dispatcher struct {
	sender  Sender
	admins  []string
	log     zerolog.Logger
	retry   retry.Config
	timeout time.Duration
}

// NewDispatcher creates a dispatcher; admins is the configured administrative
// recipient list used by NotifyAdmins.
func NewDispatcher(sender Sender, admins []string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		admins:  append([]string(nil), admins...),
		log:     log,
		retry:   retry.DefaultConfig(),
		timeout: 10 * time.Second,
	}
}

// WithRetry overrides the delivery retry policy.
func (d *Dispatcher) WithRetry(cfg retry.Config) *Dispatcher {
	d.retry = cfg
	return d
}

// Admins returns a copy of the administrative recipient list.
func (d *Dispatcher) Admins() []string {
	return append([]string(nil), d.admins...)
}

// Notify delivers msg and reports whether it was accepted by the sender. The
// caller's cancellation does not abort delivery of an already committed change.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) bool {
	msg.To = dedupe(msg.To)
	if len(msg.To) == 0 || d.sender == nil {
		return false
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	_, err := retry.Do(sendCtx, d.retry, d.log, "notify.send", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.sender.Send(ctx, msg)
	})
	if err != nil {
		metrics.ObserveNotification("failed")
		d.log.Error().
			Err(fmt.Errorf("notify: %w: %w", apperr.ErrDependency, err)).
			Strs("to", msg.To).
			Str("subject", msg.Subject).
			Msg("notification dispatch failed")
		return false
	}

	metrics.ObserveNotification("sent")
	return true
}

// NotifyAdmins sends subject/body to the administrative recipients plus any
// extra addresses (for example the listing's agent).
func (d *Dispatcher) NotifyAdmins(ctx context.Context, subject, body string, extra ...string) bool {
	to := append(d.Admins(), extra...)
	return d.Notify(ctx, Message{To: to, Subject: subject, Body: body})
}

func dedupe(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}
