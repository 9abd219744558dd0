// Package ctxtrack implements the Context Tracker: it consumes the
// runtime's streamed messages, maintains the cumulative input-token count
// and inferred context window size, and latches a one-shot "handoff due"
// signal when the window's free fraction drops to the agent's threshold.
package ctxtrack

import "github.com/ikido/fleetctl/internal/runtime"

// defaultContextWindow is the window assumed when a system{subtype=init}
// message names a model absent from knownWindows. Before init no window is
// known and no handoff is signalled; a later result's per-model usage
// overrides the window.
const defaultContextWindow = 200_000

// knownWindows maps a model name to its known context window size. Models
// absent from the table fall back to defaultContextWindow.
var knownWindows = map[string]int{
	"sonnet": 200_000,
	"opus":   200_000,
	"haiku":  200_000,
	"gpt-4o": 128_000,
	"gpt-5":  400_000,
}

// Tracker is one per job; Reset() is called between handoffs, retaining
// the model/window but clearing token state and the latch.
type Tracker struct {
	threshold float64

	contextWindowSize int
	modelName         string
	lastInputTokens   int
	isCompacting      bool
	handoffTriggered  bool
}

// New creates a Tracker for an agent's configured context_threshold
// (fraction of the window reserved before handoff, default 0.10).
func New(threshold float64) *Tracker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.10
	}
	return &Tracker{threshold: threshold}
}

// Observe feeds one runtime message into the tracker's state machine.
func (t *Tracker) Observe(msg runtime.Message) {
	switch {
	case msg.Type == runtime.MessageSystem && msg.Subtype == runtime.SubtypeInit:
		t.modelName = msg.ModelName
		t.contextWindowSize = windowForModel(msg.ModelName)
	case msg.Type == runtime.MessageAssistant:
		if msg.Usage != nil {
			t.lastInputTokens = msg.Usage.InputTokens
		}
		t.isCompacting = false
	case msg.Type == runtime.MessageSystem && msg.Subtype == runtime.SubtypeCompactBoundary:
		if msg.Compact != nil {
			t.lastInputTokens = msg.Compact.PreTokens
		}
	case msg.Type == runtime.MessageSystem && msg.Subtype == runtime.SubtypeStatus && msg.Status == "compacting":
		t.isCompacting = true
	case msg.Type == runtime.MessageResult:
		if msg.ModelUsage != nil && msg.ModelUsage.ContextWindow > 0 {
			t.contextWindowSize = msg.ModelUsage.ContextWindow
		}
	}
}

func windowForModel(model string) int {
	if w, ok := knownWindows[model]; ok {
		return w
	}
	return defaultContextWindow
}

// ShouldHandoff implements the edge-triggered handoff predicate: true iff
// not already triggered, not currently compacting, the window size is
// known, tokens have been observed, and the remaining fraction of the
// window has dropped to the threshold or below. Once true it latches —
// a tracker fires at most once.
func (t *Tracker) ShouldHandoff() bool {
	if t.handoffTriggered || t.isCompacting {
		return false
	}
	if t.contextWindowSize <= 0 || t.lastInputTokens <= 0 {
		return false
	}
	remaining := 1 - float64(t.lastInputTokens)/float64(t.contextWindowSize)
	if remaining <= t.threshold {
		t.handoffTriggered = true
		return true
	}
	return false
}

// Reset clears per-session token state and the latch after a handoff,
// retaining the inferred model and window size.
func (t *Tracker) Reset() {
	t.lastInputTokens = 0
	t.isCompacting = false
	t.handoffTriggered = false
}

// UsagePercent returns the fraction of the context window consumed, for
// hook payloads ( context_threshold payload).
func (t *Tracker) UsagePercent() float64 {
	if t.contextWindowSize <= 0 {
		return 0
	}
	return float64(t.lastInputTokens) / float64(t.contextWindowSize)
}

func (t *Tracker) RemainingPercent() float64 { return 1 - t.UsagePercent() }
func (t *Tracker) InputTokens() int          { return t.lastInputTokens }
func (t *Tracker) ContextWindow() int        { return t.contextWindowSize }
func (t *Tracker) ModelName() string         { return t.modelName }
