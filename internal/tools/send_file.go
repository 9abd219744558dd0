package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/chat"
	"github.com/ikido/fleetctl/internal/common/logger"
)

// errPathEscape is returned by resolveWithinWorkdir when file_path would
// resolve outside the job's working directory.
var errPathEscape = errors.New("tools: path escapes working directory")

func registerTools(s *server.MCPServer, caps Capabilities, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("send_file",
			mcp.WithDescription("Send a file from the working directory back to the originating chat channel."),
			mcp.WithString("file_path",
				mcp.Required(),
				mcp.Description("Path to the file, relative to the job's working directory"),
			),
			mcp.WithString("message",
				mcp.Description("Optional text returned in the tool result with the confirmation; it is not posted to the channel"),
			),
			mcp.WithString("filename",
				mcp.Description("Optional override for the uploaded filename (defaults to the source file's base name)"),
			),
		),
		sendFileHandler(caps, log),
	)
}

func sendFileHandler(caps Capabilities, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if caps.UploadFile == nil {
			return mcp.NewToolResultError("send_file is unavailable for this job: no reply channel is attached"), nil
		}

		rawPath, err := req.RequireString("file_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		resolved, err := resolveWithinWorkdir(caps.WorkingDirectory, rawPath)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("send_file: %v", err)), nil
		}

		if _, err := os.Stat(resolved); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("send_file: %v", err)), nil
		}

		filename := req.GetString("filename", "")
		if filename == "" {
			filename = filepath.Base(resolved)
		}

		if err := caps.UploadFile(ctx, chat.FileRef{Path: resolved, Filename: filename}); err != nil {
			log.Error("send_file upload failed", zap.String("path", resolved), zap.Error(err))
			logNotify(caps, "error", fmt.Sprintf("send_file upload failed: %v", err))
			return mcp.NewToolResultError(fmt.Sprintf("send_file: upload failed: %v", err)), nil
		}
		logNotify(caps, "info", fmt.Sprintf("sent %s to originating channel", filename))

		message := req.GetString("message", "")
		result := fmt.Sprintf("Sent %s to the originating channel.", filename)
		if message != "" {
			result = fmt.Sprintf("%s\n%s", message, result)
		}
		return mcp.NewToolResultText(result), nil
	}
}

// resolveWithinWorkdir joins rawPath onto workdir and rejects any result
// that escapes workdir once both are canonicalised (symlinks resolved).
// This stops a runtime-controlled path argument from reading files
// outside the job's sandboxed working directory.
func resolveWithinWorkdir(workdir, rawPath string) (string, error) {
	joined := filepath.Join(workdir, rawPath)

	realWorkdir, err := filepath.EvalSymlinks(workdir)
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	realJoined, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// The target file may not exist yet as a symlink chain; fall back
		// to a lexical check against the (still foldable) parent.
		realJoined = filepath.Clean(joined)
	}

	rel, err := filepath.Rel(realWorkdir, realJoined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errPathEscape
	}
	return realJoined, nil
}
