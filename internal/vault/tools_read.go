package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/vaultgrep/internal/domain"
	"github.com/sha1n/vaultgrep/internal/engine"
	"github.com/sha1n/vaultgrep/internal/store"
)

// ReadArgument defines read_document parameters.
type ReadArgument struct {
	Document  string `json:"document" jsonschema_description:"Document path relative to the vault root (e.g., notes/daily/2024-01-02.md)"`
	StartLine int    `json:"start_line,omitempty" jsonschema_description:"First line to return, 1-based (default: 1)"`
	EndLine   int    `json:"end_line,omitempty" jsonschema_description:"Last line to return, inclusive (default: last line)"`
}

// ReadHandler handles the read_document MCP tool.
type ReadHandler struct {
	service *Service
}

// NewReadHandler creates a new read handler.
func NewReadHandler(service *Service) *ReadHandler {
	return &ReadHandler{service: service}
}

// Handle returns a document's content, or a line range of it, in a fenced block.
func (h *ReadHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args ReadArgument) (*mcp.CallToolResult, any, error) {
	if !h.service.IsReady() {
		return errorResult(notReadyMessage), nil, nil
	}

	id := strings.TrimSpace(args.Document)
	if id == "" {
		return errorResult("Document cannot be empty"), nil, nil
	}
	if err := store.ValidateID(id); err != nil {
		return errorResult("Invalid document: %s", err), nil, nil
	}
	if args.StartLine < 0 || args.EndLine < 0 {
		return errorResult("Line numbers cannot be negative"), nil, nil
	}
	if args.EndLine > 0 && args.StartLine > args.EndLine {
		return errorResult("start_line (%d) is after end_line (%d)", args.StartLine, args.EndLine), nil, nil
	}

	docs := h.service.Store()
	doc := domain.Document{ID: id, Size: domain.UnknownSize}
	size, err := docs.StatSize(ctx, doc)
	if err != nil {
		return errorResult("Document not found: %s", id), nil, nil
	}

	maxSize := h.service.Settings().Search.MaxFileSize
	if maxSize > 0 && size > maxSize {
		return errorResult("Document too large (%.2f KB). Maximum allowed size is %.2f KB",
			float64(size)/1024, float64(maxSize)/1024), nil, nil
	}
	doc.Size = size

	content, err := docs.ReadContent(ctx, doc)
	if err != nil {
		if errors.Is(err, store.ErrBinaryDocument) {
			return errorResult("Cannot display binary document content"), nil, nil
		}
		return errorResult("Error reading document: %s", err), nil, nil
	}
	if store.IsBinary([]byte(content)) {
		return errorResult("Cannot display binary document content"), nil, nil
	}

	lines := strings.Split(content, "\n")
	start := max(args.StartLine, 1)
	end := len(lines)
	if args.EndLine > 0 {
		end = min(args.EndLine, len(lines))
	}
	if start > len(lines) {
		return errorResult("start_line %d is past the end of %s (%d lines)", start, id, len(lines)), nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Document**: `%s`\n", id)
	fmt.Fprintf(&sb, "**Size**: %d bytes\n", len(content))
	if start > 1 || end < len(lines) {
		fmt.Fprintf(&sb, "**Lines**: %d-%d of %d\n", start, end, len(lines))
	}
	fmt.Fprintf(&sb, "\n```%s\n%s\n```", fenceLanguage(engine.ExtensionOf(id)), strings.Join(lines[start-1:end], "\n"))

	return textResult(sb.String()), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ReadHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "read_document",
		Description: "Read a vault document by path, optionally limited to a line range. Use it to inspect matches before replacing.",
	}
}

// RegisterReadTool registers read_document.
func RegisterReadTool(server *mcp.Server, service *Service) {
	read := NewReadHandler(service)
	mcp.AddTool(server, read.GetToolDefinition(), read.Handle)
}

// fenceLanguage maps a document extension to a code fence hint.
func fenceLanguage(ext string) string {
	switch ext {
	case "md", "markdown":
		return "markdown"
	case "js":
		return "javascript"
	case "ts":
		return "typescript"
	case "json", "css", "html", "yaml", "toml":
		return ext
	case "yml":
		return "yaml"
	default:
		return ""
	}
}
