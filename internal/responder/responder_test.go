package responder

import (
	"context"
	"strings"
	"testing"
	"time"
)

type recordingSender struct {
	sent []string
}

func (s *recordingSender) Send(_ context.Context, text string) error {
	s.sent = append(s.sent, text)
	return nil
}

func TestResponder_FlushSendsResidualBuffer(t *testing.T) {
	sender := &recordingSender{}
	r := New(sender, Config{MaxBufferSize: 1000, MinMessageInterval: time.Millisecond})

	ctx := context.Background()
	if err := r.AddMessageAndSend(ctx, "hello there"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no send before flush, got %v", sender.sent)
	}
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "hello there" {
		t.Fatalf("expected flush to emit buffered text, got %v", sender.sent)
	}
	if !r.HasSentMessages() {
		t.Fatal("expected HasSentMessages true after a send")
	}
}

func TestResponder_SplitsAtMaxBufferSize(t *testing.T) {
	sender := &recordingSender{}
	r := New(sender, Config{MaxBufferSize: 10, MinMessageInterval: time.Millisecond})

	ctx := context.Background()
	if err := r.AddMessageAndSend(ctx, "0123456789ABCDEF"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) == 0 {
		t.Fatal("expected at least one chunk sent once max buffer size was exceeded")
	}
	for _, chunk := range sender.sent {
		if len(chunk) > 10 {
			t.Fatalf("chunk %q exceeds MaxBufferSize", chunk)
		}
	}
}

func TestResponder_PreservesCodeFenceAcrossSplit(t *testing.T) {
	sender := &recordingSender{}
	r := New(sender, Config{MaxBufferSize: 30, MinMessageInterval: time.Millisecond})

	ctx := context.Background()
	text := "intro paragraph here.\n\n```go\nfunc main() {\n    doStuff()\n}\n```\n"
	if err := r.AddMessageAndSend(ctx, text); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	full := strings.Join(sender.sent, "")
	if strings.Count(full, "```go") < 1 {
		t.Fatalf("expected at least one reopened go fence across chunks, got %q", full)
	}
	// Every chunk with an opening fence must also contain a closing one.
	for _, chunk := range sender.sent {
		if strings.Contains(chunk, "```go") && strings.Count(chunk, "```") < 2 {
			t.Fatalf("chunk opened a fence without closing it: %q", chunk)
		}
	}
}
