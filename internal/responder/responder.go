// Package responder implements the Streaming Responder: it buffers
// an agent's streamed assistant text, splits it into chat-sized chunks on
// natural boundaries without breaking code fences, and paces delivery to
// the chat platform's rate limit.
package responder

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Sender posts one finished chunk to the destination channel/thread.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Config tunes a Responder to one platform's limits.
type Config struct {
	// MaxBufferSize is the largest chunk emitted, in bytes.
	MaxBufferSize int
	// MinMessageInterval is the minimum gap between the starts of
	// successive send attempts, enforced by a token bucket of burst 1. The
	// gap is not measured from the end of the previous send: the time a
	// send takes counts toward it.
	MinMessageInterval time.Duration
}

// Responder accumulates chunks via AddMessageAndSend and emits paced,
// fence-safe posts through a Sender. One Responder is created per job.
type Responder struct {
	sender Sender
	cfg    Config
	limiter *rate.Limiter

	buf        strings.Builder
	fenceLang  string // non-empty while buf's trailing content is inside an open code fence
	sentAny    bool
}

// New creates a Responder. A zero Config.MaxBufferSize defaults to 3500
// (similar to the larger of the two reference platforms); a zero
// MinMessageInterval defaults to 2s.
func New(sender Sender, cfg Config) *Responder {
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = 3500
	}
	if cfg.MinMessageInterval <= 0 {
		cfg.MinMessageInterval = 2 * time.Second
	}
	return &Responder{
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinMessageInterval), 1),
	}
}

// AddMessageAndSend appends chunk to the buffer and flushes any complete
// natural-break segments it now contains, pacing each send. The buffer
// itself only ever holds raw model text; a fence carried across a split
// is tracked separately in r.fenceLang and only rendered into the
// outgoing chunk, so re-scanning the buffer on the next split never
// mistakes the visual reopen marker for real content.
func (r *Responder) AddMessageAndSend(ctx context.Context, chunk string) error {
	r.buf.WriteString(chunk)
	for {
		text := r.buf.String()
		if len(text) < r.cfg.MaxBufferSize && !endsOnNaturalBreak(text) {
			return nil
		}
		splitAt := findSplitPoint(text, r.cfg.MaxBufferSize)
		if splitAt <= 0 {
			return nil
		}
		segment := text[:splitAt]
		rest := text[splitAt:]

		out, newFenceLang := r.renderChunk(segment)
		if err := r.send(ctx, out); err != nil {
			return err
		}
		r.fenceLang = newFenceLang

		r.buf.Reset()
		r.buf.WriteString(rest)

		if len(rest) == 0 {
			return nil
		}
	}
}

// Flush sends any residual buffered text, closing an open fence if
// necessary. It is the job executor's final call once the stream ends.
func (r *Responder) Flush(ctx context.Context) error {
	text := r.buf.String()
	if strings.TrimSpace(text) == "" {
		r.buf.Reset()
		r.fenceLang = ""
		return nil
	}
	out, _ := r.renderChunk(text)
	r.buf.Reset()
	r.fenceLang = ""
	return r.send(ctx, out)
}

// renderChunk prepends a visual fence-reopen marker when segment
// continues a fence left open by the previous chunk, and appends a
// closing marker when segment itself ends still inside a fence. It
// returns the text to actually send and the fence language carried into
// the next chunk ("" if segment closed whatever it opened).
func (r *Responder) renderChunk(segment string) (out string, carryLang string) {
	carryLang = scanFenceState(segment, r.fenceLang)

	out = segment
	if r.fenceLang != "" {
		out = "```" + r.fenceLang + "\n" + out
	}
	if carryLang != "" {
		if !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += "```"
	}
	return out, carryLang
}

// HasSentMessages reports whether at least one chunk has been posted,
// used by callers deciding whether a job produced any visible output.
func (r *Responder) HasSentMessages() bool { return r.sentAny }

func (r *Responder) send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := r.sender.Send(ctx, text); err != nil {
		return err
	}
	r.sentAny = true
	return nil
}
