package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/vaultgrep/internal/engine"
)

const notReadyMessage = "The vault is not available yet. The content index is still being prepared. Please try again later."

// textResult wraps text in a successful tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// errorResult wraps a formatted message in a failed tool result.
func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}

// operationError renders an engine failure for a tool caller.
func operationError(op string, err error) *mcp.CallToolResult {
	switch {
	case engine.IsValidationError(err):
		return errorResult("Invalid pattern: %s", err)
	case errors.Is(err, engine.ErrBusy):
		return errorResult("Cannot start %s: %s", op, err)
	case errors.Is(err, engine.ErrLibraryDisabled):
		return errorResult("The pattern library is disabled")
	default:
		return errorResult("%s failed: %s", op, err)
	}
}

// persist saves state after a mutation. Failures are logged, not surfaced.
func (s *Service) persist(ctx context.Context) {
	if err := s.Save(ctx); err != nil {
		s.logger.Warn("Failed to persist state", "error", err)
	}
}

// RegisterTools registers every vault tool with an MCP server.
func RegisterTools(server *mcp.Server, service *Service) {
	RegisterSearchTools(server, service)
	RegisterReplaceTool(server, service)
	RegisterLibraryTools(server, service)
	RegisterReadTool(server, service)
}
