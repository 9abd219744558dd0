// Package hooks implements the Hook Pipeline: sequential execution
// of user-configured shell / HTTP / chat hooks at job lifecycle points,
// honouring on_events filters, a when predicate, and continue_on_error.
package hooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/internal/fleetconfig"
)

// Runner executes one hook and reports its outcome. Shell, HTTP, and chat
// hooks are distinct Runner implementations registered by Type.
type Runner interface {
	Run(ctx context.Context, hook fleetconfig.HookConfig, payload any) Outcome
}

// Outcome is what a hook run reports back to the pipeline.
type Outcome struct {
	Success    bool
	DurationMS int64
	ExitCode   *int
	Output     string
	Error      string
}

// Pipeline fires the hooks configured for a lifecycle event in
// declaration order, stopping early only when a hook fails and its
// continue_on_error is false.
type Pipeline struct {
	log     *logger.Logger
	runners map[fleetconfig.HookType]Runner
}

// New creates a Pipeline with the given runner set. ChatPoster may be nil
// until a chat manager is wired; chat_post hooks configured before that
// fail closed (continue_on_error decides whether the job is affected).
func New(log *logger.Logger, runners map[fleetconfig.HookType]Runner) *Pipeline {
	return &Pipeline{log: log, runners: runners}
}

// Fire executes every hook in hooks for event against payload, in order.
// It returns the outcomes observed so callers (e.g. the executor, for
// on_session_start's stdout-prepend behaviour) can inspect them.
func (p *Pipeline) Fire(ctx context.Context, event fleetconfig.HookEvent, hooks []fleetconfig.HookConfig, payload any) []Outcome {
	payloadJSON, _ := json.Marshal(payload)
	outcomes := make([]Outcome, 0, len(hooks))

	for _, h := range hooks {
		if !matchesEvent(h, event) {
			continue
		}
		if h.When != "" && !evaluateWhen(h.When, payloadJSON) {
			continue
		}

		runner, ok := p.runners[h.Type]
		if !ok {
			p.log.Warn("no runner registered for hook type", hookFields(h)...)
			continue
		}

		start := time.Now()
		outcome := runner.Run(ctx, h, payload)
		outcome.DurationMS = time.Since(start).Milliseconds()
		outcomes = append(outcomes, outcome)

		if !outcome.Success {
			p.log.Warn("hook failed", append(hookFields(h), errField(outcome.Error))...)
			if !h.ContinueOnErrorOrDefault() {
				break
			}
		}
	}
	return outcomes
}

func matchesEvent(h fleetconfig.HookConfig, event fleetconfig.HookEvent) bool {
	if len(h.OnEvents) == 0 {
		return true
	}
	for _, e := range h.OnEvents {
		if e == event {
			return true
		}
	}
	return false
}

// evaluateWhen treats expr as a dot-path into payload that must resolve
// to a JSON boolean true. Any other resolution (false, missing, non-bool)
// suppresses the hook.
func evaluateWhen(expr string, payloadJSON []byte) bool {
	result := gjson.GetBytes(payloadJSON, expr)
	return result.Type == gjson.True
}

func hookFields(h fleetconfig.HookConfig) []zap.Field {
	return []zap.Field{zap.String("hook_name", h.Name), zap.String("hook_type", string(h.Type))}
}

func errField(msg string) zap.Field { return zap.String("error", msg) }
