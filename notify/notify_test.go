package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"widesquare/retry"
)

type recordingSender struct {
	sent  []Message
	fails int
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	if r.fails > 0 {
		r.fails--
		return errors.New("smtp unavailable")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
}

func TestDispatcher_NotifyAdminsMergesAndDedupes(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, []string{"root@example.com", "ops@example.com"}, zerolog.Nop())

	if ok := d.NotifyAdmins(context.Background(), "New booking", "body", "agent@example.com", "ROOT@example.com", ""); !ok {
		t.Fatal("expected dispatch to succeed")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.sent))
	}
	to := sender.sent[0].To
	if len(to) != 3 || to[0] != "root@example.com" || to[2] != "agent@example.com" {
		t.Fatalf("unexpected recipients %v", to)
	}
}

func TestDispatcher_FailureIsSwallowed(t *testing.T) {
	sender := &recordingSender{fails: 5}
	d := NewDispatcher(sender, nil, zerolog.Nop()).WithRetry(fastRetry())

	if ok := d.Notify(context.Background(), Message{To: []string{"bob@example.com"}, Subject: "s"}); ok {
		t.Fatal("expected dispatch to report failure")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected nothing delivered, got %d", len(sender.sent))
	}
}

func TestDispatcher_RetriesTransientFailure(t *testing.T) {
	sender := &recordingSender{fails: 1}
	d := NewDispatcher(sender, nil, zerolog.Nop()).WithRetry(fastRetry())

	if ok := d.Notify(context.Background(), Message{To: []string{"bob@example.com"}, Subject: "s"}); !ok {
		t.Fatal("expected retry to deliver")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(sender.sent))
	}
}

func TestDispatcher_IgnoresCancelledCaller(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ok := d.Notify(ctx, Message{To: []string{"bob@example.com"}}); !ok {
		t.Fatal("expected delivery despite cancelled request context")
	}
}

func TestDispatcher_NoRecipients(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, nil, zerolog.Nop())

	if ok := d.Notify(context.Background(), Message{Subject: "nobody"}); ok {
		t.Fatal("expected no dispatch without recipients")
	}
	if len(sender.sent) != 0 {
		t.Fatal("sender should not be called")
	}
}
