package worktree

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/common/logger"
)

// ScriptExecutionRequest contains parameters for executing a setup or cleanup script.
type ScriptExecutionRequest struct {
	SessionID    string
	TaskID       string
	RepositoryID string
	Script       string
	WorkingDir   string
	ScriptType   string // "setup" or "cleanup"
}

// OutputSink receives incremental script output, keyed by the job id the
// script run belongs to. Each call carries one raw read of up to 4096
// bytes from stdout or stderr, not one line. No package of the module
// implements it or constructs a DefaultScriptMessageHandler.
type OutputSink interface {
	AppendScriptOutput(ctx context.Context, jobID, scriptType, line string)
}

// DefaultScriptMessageHandler runs a setup/cleanup script and streams its
// output to the bound OutputSink.
type DefaultScriptMessageHandler struct {
	logger  *logger.Logger
	sink    OutputSink
	timeout time.Duration
}

// NewDefaultScriptMessageHandler creates a new DefaultScriptMessageHandler.
func NewDefaultScriptMessageHandler(log *logger.Logger, sink OutputSink, timeout time.Duration) *DefaultScriptMessageHandler {
	return &DefaultScriptMessageHandler{
		logger:  log.WithFields(zap.String("component", "script-message-handler")),
		sink:    sink,
		timeout: timeout,
	}
}

// ExecuteSetupScript executes a setup script and streams output to the sink.
// Returns an error if the script fails (non-zero exit code or timeout).
func (h *DefaultScriptMessageHandler) ExecuteSetupScript(ctx context.Context, req ScriptExecutionRequest) error {
	return h.executeScript(ctx, req, true)
}

// ExecuteCleanupScript executes a cleanup script and streams output to the
// sink. Returns nil even if the script fails (best-effort cleanup).
func (h *DefaultScriptMessageHandler) ExecuteCleanupScript(ctx context.Context, req ScriptExecutionRequest) error {
	err := h.executeScript(ctx, req, false)
	if err != nil {
		h.logger.Warn("cleanup script failed, continuing with removal",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		return nil
	}
	return nil
}

// executeScript is the core implementation for script execution. The
// parent context is intentionally not used for the run itself — a
// detached context with its own timeout prevents a cancelled caller
// (e.g. an HTTP request) from killing a long-running script mid-run.
func (h *DefaultScriptMessageHandler) executeScript(_ context.Context, req ScriptExecutionRequest, failOnError bool) error {
	if req.Script == "" {
		return nil
	}

	scriptCtx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	exitCode, err := h.runScriptWithOutput(scriptCtx, req)
	if err != nil {
		if failOnError {
			return err
		}
		return nil
	}
	if exitCode != 0 && failOnError {
		return fmt.Errorf("script exited with code %d", exitCode)
	}
	return nil
}

func (h *DefaultScriptMessageHandler) emit(jobID, scriptType, line string) {
	if h.sink == nil || line == "" {
		return
	}
	h.sink.AppendScriptOutput(context.Background(), jobID, scriptType, line)
}

// runScriptWithOutput runs the script and streams stdout/stderr to the sink.
// The passed context should already carry a timeout.
func (h *DefaultScriptMessageHandler) runScriptWithOutput(ctx context.Context, req ScriptExecutionRequest) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", req.Script)
	cmd.Dir = req.WorkingDir

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start script: %w", err)
	}

	h.logger.Info("script process started",
		zap.String("session_id", req.SessionID),
		zap.String("command", req.Script))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var combined bytes.Buffer

	stream := func(r io.Reader) {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, readErr := r.Read(buf)
			if n > 0 {
				mu.Lock()
				combined.Write(buf[:n])
				h.emit(req.TaskID, req.ScriptType, string(buf[:n]))
				mu.Unlock()
			}
			if readErr != nil {
				return
			}
		}
	}

	wg.Add(2)
	go stream(stdoutPipe)
	go stream(stderrPipe)
	wg.Wait()

	err = cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return -1, err
		}
	}

	h.logger.Info("script execution completed",
		zap.String("session_id", req.SessionID),
		zap.Int("exit_code", exitCode))
	return exitCode, nil
}
