package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/ikido/fleetctl/internal/fleetconfig"
)

// ShellRunner spawns hook.Command, piping the JSON payload to its stdin
// and capturing stdout/exit code.
type ShellRunner struct {
	Timeout time.Duration
}

func (r ShellRunner) Run(ctx context.Context, hook fleetconfig.HookConfig, payload any) Outcome {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Success: false, Error: err.Error()}
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", hook.Command)
	cmd.Stdin = bytes.NewReader(data)
	out, err := cmd.Output()

	outcome := Outcome{Output: string(out)}
	if err == nil {
		outcome.Success = true
		zero := 0
		outcome.ExitCode = &zero
		return outcome
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		outcome.ExitCode = &code
	}
	outcome.Error = err.Error()
	return outcome
}

// HTTPWebhookRunner POSTs the JSON payload to hook.URL.
type HTTPWebhookRunner struct {
	Client  *http.Client
	Timeout time.Duration
}

func (r HTTPWebhookRunner) Run(ctx context.Context, hook fleetconfig.HookConfig, payload any) Outcome {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Success: false, Error: err.Error()}
	}

	req, err := http.NewRequestWithContext(runCtx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return Outcome{Success: false, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Outcome{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	return Outcome{
		Success: resp.StatusCode >= 200 && resp.StatusCode < 300,
		Output:  string(body),
	}
}

// ChatPoster is the capability a chat manager exposes for chat_post hooks
// to deliver a rich notification to a named channel.
type ChatPoster interface {
	PostToChannel(ctx context.Context, channel, message string) error
}

// ChatPostRunner posts a notification to a named chat channel via the
// bound ChatPoster.
type ChatPostRunner struct {
	Poster ChatPoster
}

func (r ChatPostRunner) Run(ctx context.Context, hook fleetconfig.HookConfig, payload any) Outcome {
	if r.Poster == nil {
		return Outcome{Success: false, Error: "no chat poster configured"}
	}
	message := renderChatMessage(payload)
	if err := r.Poster.PostToChannel(ctx, hook.Channel, message); err != nil {
		return Outcome{Success: false, Error: err.Error()}
	}
	return Outcome{Success: true}
}

func renderChatMessage(payload any) string {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
