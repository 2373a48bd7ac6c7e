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

// SearchArgument defines search parameters.
type SearchArgument struct {
	Pattern   string `json:"pattern,omitempty" jsonschema_description:"Regular expression to search for (RE2 syntax)"`
	Flags     string `json:"flags,omitempty" jsonschema_description:"Pattern flags: g (all matches), i (ignore case), m (multiline), s (dot matches newline). Defaults to the configured flags"`
	Document  string `json:"document,omitempty" jsonschema_description:"Search only this document (path relative to the vault root)"`
	LibraryID string `json:"library_id,omitempty" jsonschema_description:"Use the pattern and flags of a saved library item"`
}

// SearchHandler handles the regex_search MCP tool.
type SearchHandler struct {
	service *Service
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(service *Service) *SearchHandler {
	return &SearchHandler{
		service: service,
	}
}

// Handle runs the search and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if !h.service.IsReady() {
		return errorResult(notReadyMessage), nil, nil
	}

	eng := h.service.Engine()
	pattern, flags := args.Pattern, args.Flags
	if args.LibraryID != "" {
		item, err := eng.UseLibraryItem(args.LibraryID)
		if err != nil {
			return operationError("Search", err), nil, nil
		}
		pattern, flags = item.Pattern, item.Flags
	}
	if pattern == "" {
		pattern = eng.Config().DefaultPattern
	}
	if strings.TrimSpace(pattern) == "" {
		return errorResult("Pattern cannot be empty"), nil, nil
	}

	if args.Document != "" {
		result, err := eng.SearchDocument(ctx, args.Document, pattern, flags)
		if result == nil {
			return operationError("Search", err), nil, nil
		}
		defer h.service.persist(ctx)
		return formatDocumentResult(*result, pattern, err), nil, nil
	}

	report, err := eng.Search(ctx, engine.SearchRequest{
		Pattern: pattern,
		Flags:   flags,
		OnProgress: func(p domain.Progress) {
			h.service.logger.Debug("Search progress", "current", p.Current, "total", p.Total)
		},
	})
	if report == nil {
		return operationError("Search", err), nil, nil
	}
	defer h.service.persist(ctx)
	return formatSearchReport(report, err), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "regex_search",
		Description: "Search the vault's documents with a regular expression and report every match with line, column and surrounding context",
	}
}

// stopNotice describes why a run ended early, or "" when it completed.
func stopNotice(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, engine.ErrCancelled):
		return "**Cancelled**: results below are partial.\n\n"
	case errors.Is(err, engine.ErrTimeout):
		return "**Timed out**: results below are partial.\n\n"
	default:
		return fmt.Sprintf("**Stopped**: %s\n\n", err)
	}
}

// formatSearchReport formats a vault-wide search for MCP response.
func formatSearchReport(report *engine.SearchReport, runErr error) *mcp.CallToolResult {
	var sb strings.Builder
	sb.WriteString(stopNotice(runErr))

	if report.TotalMatches == 0 && len(report.Results) == 0 {
		fmt.Fprintf(&sb, "No matches found for /%s/%s (%d documents scanned)\n",
			report.Pattern, report.Flags, report.DocumentsScanned)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: sb.String()}},
			IsError: errors.Is(runErr, engine.ErrTimeout),
		}
	}

	fmt.Fprintf(&sb, "Found %d matches in %d documents for /%s/%s (%d of %d documents scanned in %s):\n\n",
		report.TotalMatches, countMatched(report.Results), report.Pattern, report.Flags,
		report.DocumentsScanned, report.DocumentsTotal, report.Elapsed.Round(time.Millisecond))

	for i, r := range report.Results {
		writeDocumentResult(&sb, i+1, r)
	}

	if report.Truncated {
		sb.WriteString("... result limit reached, refine the pattern to see more\n")
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: sb.String()}},
		IsError: errors.Is(runErr, engine.ErrTimeout),
	}
}

// formatDocumentResult formats a single-document search.
func formatDocumentResult(r domain.SearchResult, pattern string, runErr error) *mcp.CallToolResult {
	if r.Failed() {
		return errorResult("Cannot search %s: %s", r.DocumentID, r.Error)
	}

	var sb strings.Builder
	sb.WriteString(stopNotice(runErr))
	if r.TotalMatches == 0 {
		fmt.Fprintf(&sb, "No matches found for /%s/ in %s\n", pattern, r.DocumentID)
		return textResult(sb.String())
	}
	writeDocumentResult(&sb, 1, r)
	return textResult(sb.String())
}

func writeDocumentResult(sb *strings.Builder, n int, r domain.SearchResult) {
	if r.Failed() {
		fmt.Fprintf(sb, "### %d. %s\n**Error**: %s\n\n", n, r.DocumentID, r.Error)
		return
	}

	fmt.Fprintf(sb, "### %d. %s (%d matches)\n", n, r.DocumentID, r.TotalMatches)
	for _, m := range r.Matches {
		fmt.Fprintf(sb, "- L%d:C%d `%s`\n", m.Line, m.Column, m.Text)
		if len(m.Context) > 0 {
			sb.WriteString("```\n")
			for _, line := range m.Context {
				sb.WriteString(line)
				sb.WriteString("\n")
			}
			sb.WriteString("```\n")
		}
	}
	sb.WriteString("\n")
}

func countMatched(results []domain.SearchResult) int {
	n := 0
	for _, r := range results {
		if r.TotalMatches > 0 {
			n++
		}
	}
	return n
}

// CancelArgument takes no parameters.
type CancelArgument struct{}

// CancelHandler handles the cancel_operation MCP tool.
type CancelHandler struct {
	service *Service
}

// Handle cancels the operation in flight.
func (h *CancelHandler) Handle(_ context.Context, _ *mcp.CallToolRequest, _ CancelArgument) (*mcp.CallToolResult, any, error) {
	if h.service.Engine().Cancel() {
		return textResult("Cancelled the running operation"), nil, nil
	}
	return textResult(fmt.Sprintf("No operation in progress (state: %s)", h.service.Engine().State())), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *CancelHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "cancel_operation",
		Description: "Cancel the search or replace currently running against the vault",
	}
}

// HistoryArgument defines search history parameters.
type HistoryArgument struct {
	Clear bool `json:"clear,omitempty" jsonschema_description:"Clear the history instead of listing it"`
}

// HistoryHandler handles the search_history MCP tool.
type HistoryHandler struct {
	service *Service
}

// Handle lists or clears recent search patterns.
func (h *HistoryHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args HistoryArgument) (*mcp.CallToolResult, any, error) {
	history := h.service.Engine().History()
	if args.Clear {
		history.Clear()
		h.service.persist(ctx)
		return textResult("Search history cleared"), nil, nil
	}

	entries := history.List()
	if len(entries) == 0 {
		return textResult("Search history is empty"), nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Recent search patterns (most recent first):\n\n")
	for i, p := range entries {
		fmt.Fprintf(&sb, "%d. `%s`\n", i+1, p)
	}
	return textResult(sb.String()), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *HistoryHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_history",
		Description: "List the most recent distinct search patterns, or clear the list",
	}
}

// RegisterSearchTools registers regex_search, cancel_operation and search_history.
func RegisterSearchTools(server *mcp.Server, service *Service) {
	search := NewSearchHandler(service)
	mcp.AddTool(server, search.GetToolDefinition(), search.Handle)

	cancel := &CancelHandler{service: service}
	mcp.AddTool(server, cancel.GetToolDefinition(), cancel.Handle)

	history := &HistoryHandler{service: service}
	mcp.AddTool(server, history.GetToolDefinition(), history.Handle)
}
