package fleet

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/chat"
	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/internal/executor"
	"github.com/ikido/fleetctl/internal/fleetconfig"
	"github.com/ikido/fleetctl/internal/tools"
	"github.com/ikido/fleetctl/pkg/acp/protocol"
)

// toolStopTimeout bounds how long Stop waits for the per-job MCP server's
// HTTP listener to drain on job completion.
const toolStopTimeout = 5 * time.Second

// replyFileKey threads a job's reply-file capability through the
// context passed into executor.Execute, since executor.ToolProvider.Start
// only receives (ctx, jobID, agent) — the triggering event's upload
// closure isn't part of that interface, and the job id isn't known
// until Execute has already begun. Stashing them on ctx lets the tool
// provider recover the capability for the one job that context belongs
// to without threading a new parameter through Executor itself.
type replyFileKey struct{}

// withReplyFile attaches a chat event's ReplyWithFile closure to ctx. Jobs
// with no reply-capable trigger (a bare scheduler tick) never set one, and
// send_file then always reports unavailable.
func withReplyFile(ctx context.Context, uploadFile func(ctx context.Context, file chat.FileRef) error) context.Context {
	if uploadFile == nil {
		return ctx
	}
	return context.WithValue(ctx, replyFileKey{}, uploadFile)
}

func replyFileFromContext(ctx context.Context) func(ctx context.Context, file chat.FileRef) error {
	fn, _ := ctx.Value(replyFileKey{}).(func(ctx context.Context, file chat.FileRef) error)
	return fn
}

// toolProviderAdapter implements executor.ToolProvider by constructing a
// fresh tools.Server per job, binding its Capabilities.UploadFile to
// whatever reply closure (if any) the calling Manager attached to ctx.
type toolProviderAdapter struct {
	log *logger.Logger
}

func newToolProviderAdapter(log *logger.Logger) *toolProviderAdapter {
	return &toolProviderAdapter{log: log}
}

func (a *toolProviderAdapter) Start(ctx context.Context, jobID string, agent fleetconfig.Agent) (string, func(), error) {
	caps := tools.Capabilities{
		AgentName:        agent.Name,
		JobID:            jobID,
		WorkingDirectory: agent.WorkingDirectory,
		UploadFile:       replyFileFromContext(ctx),
		Notify: func(msg protocol.Message) {
			a.log.Debug("dynamic tool activity",
				zap.String("agent_id", msg.AgentID), zap.String("task_id", msg.TaskID))
		},
	}
	server := tools.New(caps, a.log)
	if err := server.Start(ctx); err != nil {
		return "", nil, err
	}
	stop := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), toolStopTimeout)
		defer cancel()
		_ = server.Stop(stopCtx)
	}
	return server.Endpoint(), stop, nil
}

var _ executor.ToolProvider = (*toolProviderAdapter)(nil)
