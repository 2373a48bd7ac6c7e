package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/vaultgrep/internal/domain"
	"github.com/sha1n/vaultgrep/internal/engine"
)

// ReplaceArgument defines replace parameters.
type ReplaceArgument struct {
	Pattern     string `json:"pattern" jsonschema_description:"Regular expression to replace (RE2 syntax)"`
	Replacement string `json:"replacement" jsonschema_description:"Replacement text; $1, ${name}, $& and $<name> expand capture groups"`
	Flags       string `json:"flags,omitempty" jsonschema_description:"Pattern flags: g (all matches), i (ignore case), m (multiline), s (dot matches newline). Defaults to the configured flags"`
	Document    string `json:"document,omitempty" jsonschema_description:"Replace only in this document (path relative to the vault root)"`
	Confirm     bool   `json:"confirm,omitempty" jsonschema_description:"Apply a vault-wide replace. Without it a preview of affected documents is returned when confirmation is required"`
}

// ReplaceHandler handles the regex_replace MCP tool.
type ReplaceHandler struct {
	service *Service
}

// NewReplaceHandler creates a new replace handler.
func NewReplaceHandler(service *Service) *ReplaceHandler {
	return &ReplaceHandler{
		service: service,
	}
}

// Handle applies the replacement, or previews it when confirmation is pending.
func (h *ReplaceHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args ReplaceArgument) (*mcp.CallToolResult, any, error) {
	if !h.service.IsReady() {
		return errorResult(notReadyMessage), nil, nil
	}
	if strings.TrimSpace(args.Pattern) == "" {
		return errorResult("Pattern cannot be empty"), nil, nil
	}

	eng := h.service.Engine()
	if args.Document != "" {
		result, err := eng.ReplaceDocument(ctx, args.Document, args.Pattern, args.Replacement, args.Flags)
		if result == nil {
			return operationError("Replace", err), nil, nil
		}
		return formatDocumentReplace(*result, err), nil, nil
	}

	if eng.RequiresConfirmation() && !args.Confirm {
		return h.preview(ctx, args), nil, nil
	}

	result, err := eng.Replace(ctx, engine.ReplaceRequest{
		Pattern:     args.Pattern,
		Replacement: args.Replacement,
		Flags:       args.Flags,
		OnProgress: func(p domain.Progress) {
			h.service.logger.Debug("Replace progress", "current", p.Current, "total", p.Total)
		},
	})
	if result == nil {
		return operationError("Replace", err), nil, nil
	}
	return formatVaultReplace(result, err), nil, nil
}

// preview lists the documents a confirmed replace would touch.
func (h *ReplaceHandler) preview(ctx context.Context, args ReplaceArgument) *mcp.CallToolResult {
	report, err := h.service.Engine().Search(ctx, engine.SearchRequest{
		Pattern:     args.Pattern,
		Flags:       args.Flags,
		SkipHistory: true,
	})
	if err != nil {
		return operationError("Preview", err)
	}
	if report.TotalMatches == 0 {
		return textResult(fmt.Sprintf("No matches for /%s/%s, nothing to replace", report.Pattern, report.Flags))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Replacing /%s/%s with `%s` would change %d matches in %d documents:\n\n",
		report.Pattern, report.Flags, args.Replacement, report.TotalMatches, countMatched(report.Results))
	for _, r := range report.Results {
		if r.Failed() {
			fmt.Fprintf(&sb, "- %s (error: %s)\n", r.DocumentID, r.Error)
			continue
		}
		fmt.Fprintf(&sb, "- %s (%d matches)\n", r.DocumentID, r.TotalMatches)
	}
	if report.Truncated {
		sb.WriteString("- ... more documents beyond the result limit\n")
	}
	sb.WriteString("\nCall regex_replace again with confirm=true to apply.\n")
	return textResult(sb.String())
}

// GetToolDefinition returns the MCP tool definition.
func (h *ReplaceHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "regex_replace",
		Description: "Replace regular expression matches across the vault or in a single document. Vault-wide replaces are previewed until confirmed",
	}
}

func formatDocumentReplace(r domain.ReplaceResult, runErr error) *mcp.CallToolResult {
	if r.Error != "" {
		return errorResult("Cannot replace in %s: %s", r.DocumentID, r.Error)
	}
	if runErr != nil {
		return operationError("Replace", runErr)
	}
	if r.ReplacedCount == 0 {
		return textResult(fmt.Sprintf("No matches in %s, nothing replaced", r.DocumentID))
	}
	if !r.Modified {
		return textResult(fmt.Sprintf("%d matches in %s, content unchanged", r.ReplacedCount, r.DocumentID))
	}
	return textResult(fmt.Sprintf("Replaced %d matches in %s", r.ReplacedCount, r.DocumentID))
}

func formatVaultReplace(result *domain.VaultReplaceResult, runErr error) *mcp.CallToolResult {
	var sb strings.Builder
	if runErr != nil {
		fmt.Fprintf(&sb, "**Stopped early** (%s): documents listed below were already written.\n\n", runErr)
	}

	fmt.Fprintf(&sb, "Replaced %d matches in %d documents (%s)\n\n",
		result.TotalReplacements, result.FilesModified, result.Elapsed.Round(time.Millisecond))
	for _, r := range result.Results {
		switch {
		case r.Error != "":
			fmt.Fprintf(&sb, "- %s: **error** %s\n", r.DocumentID, r.Error)
		case r.Modified:
			fmt.Fprintf(&sb, "- %s: %d replaced\n", r.DocumentID, r.ReplacedCount)
		default:
			fmt.Fprintf(&sb, "- %s: %d matched, unchanged\n", r.DocumentID, r.ReplacedCount)
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: sb.String()}},
		IsError: runErr != nil && !errors.Is(runErr, engine.ErrCancelled),
	}
}

// RegisterReplaceTool registers the regex_replace tool.
func RegisterReplaceTool(server *mcp.Server, service *Service) {
	handler := NewReplaceHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
