package mail

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLogMailerOmitsBody(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := m.Send(context.Background(), TemporaryPassword("a@example.com", "Secr3tPassw0rd")); err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "a@example.com") {
		t.Fatalf("expected recipient in log, got %s", out)
	}
	if strings.Contains(out, "Secr3tPassw0rd") {
		t.Fatal("log line leaked message body")
	}
}

func TestOutboxLast(t *testing.T) {
	var o Outbox
	ctx := context.Background()
	_ = o.Send(ctx, Welcome("a@example.com"))
	_ = o.Send(ctx, ResetCode("b@example.com", "123456", "15m0s"))
	_ = o.Send(ctx, ResetCode("a@example.com", "654321", "15m0s"))

	msg, ok := o.Last("a@example.com")
	if !ok || !strings.Contains(msg.Text, "654321") {
		t.Fatalf("unexpected last message %+v", msg)
	}
	if _, ok := o.Last("c@example.com"); ok {
		t.Fatal("expected no message for unknown recipient")
	}
	if len(o.Messages()) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(o.Messages()))
	}
}
