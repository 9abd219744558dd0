// Package tools implements the Dynamic Tool Server (C15): an in-process
// MCP tool endpoint constructed fresh per job, with closures capturing
// that job's live context (agent, job id, working directory, and the
// triggering chat manager's reply capability, if any).
package tools

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/chat"
	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/pkg/acp/protocol"
)

// Capabilities is the capability record bound into a job's tool server:
// a table of function pointers, not a global registry, so every job gets
// its own closures over its own context (§8 "Dynamic dispatch over
// tools").
type Capabilities struct {
	AgentName        string
	JobID            string
	WorkingDirectory string

	// UploadFile delivers a file back to the originating chat channel.
	// Nil for jobs with no reply-capable trigger (e.g. a bare scheduler
	// tick with no chat/webhook origin); send_file then always errors.
	UploadFile func(ctx context.Context, file chat.FileRef) error

	// Notify reports a tool invocation as a protocol.Message, the same
	// agent/task-scoped envelope the fleet's event-bus observers already
	// consume, so an external dashboard sees dynamic-tool activity
	// without polling the job output log. Nil disables tool-call
	// observability for jobs not wired to a bus.
	Notify func(msg protocol.Message)
}

// logNotify is a small helper tool handlers use to emit a best-effort
// protocol.Message log entry; a nil Notify is a no-op.
func logNotify(caps Capabilities, level, message string) {
	if caps.Notify == nil {
		return
	}
	caps.Notify(protocol.Message{
		Type:      protocol.MessageTypeLog,
		Timestamp: timeNow(),
		AgentID:   caps.AgentName,
		TaskID:    caps.JobID,
		Data: map[string]interface{}{
			"level":   level,
			"message": message,
		},
	})
}

// Server wraps an mcp-go Streamable HTTP server scoped to one job. The
// executor starts one per job and stops it at job completion.
type Server struct {
	caps Capabilities
	log  *logger.Logger

	httpServer *http.Server
	endpoint   string

	mu      sync.Mutex
	running bool
}

// New constructs a Server bound to caps. Call Start to begin listening.
func New(caps Capabilities, log *logger.Logger) *Server {
	return &Server{caps: caps, log: log.WithFields(zap.String("job_id", caps.JobID))}
}

// Start listens on an ephemeral localhost port and serves the job's tool
// set over MCP's Streamable HTTP transport. Returns once listening.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("tool server already running for job %s", s.caps.JobID)
	}
	s.mu.Unlock()

	mcpServer := server.NewMCPServer(
		fmt.Sprintf("fleetctl-job-%s", s.caps.JobID),
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	registerTools(mcpServer, s.caps, s.log)

	streamable := server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp"))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for job tool server: %w", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	s.endpoint = fmt.Sprintf("http://127.0.0.1:%d/mcp", addr.Port)

	s.httpServer = &http.Server{Handler: streamable}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.log.Debug("job tool server listening", zap.String("endpoint", s.endpoint))
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("job tool server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down the tool server. Safe to call even if Start failed or
// was never called.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running || s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Endpoint returns the URL the runtime adapter should be pointed at (e.g.
// via an MCP server config entry in the runtime's launch args). Empty
// until Start succeeds.
func (s *Server) Endpoint() string {
	return s.endpoint
}

func timeNow() time.Time { return time.Now().UTC() }
