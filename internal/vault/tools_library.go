package vault

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/vaultgrep/internal/domain"
	"github.com/sha1n/vaultgrep/internal/engine"
)

// maxFindResults caps library_list answers to a name query.
const maxFindResults = 20

// LibraryListArgument defines pattern library listing parameters.
type LibraryListArgument struct {
	Category string `json:"category,omitempty" jsonschema_description:"Only list items in this category"`
	Query    string `json:"query,omitempty" jsonschema_description:"Fuzzy match against item names and descriptions"`
}

// LibrarySaveArgument defines the fields of a saved pattern.
type LibrarySaveArgument struct {
	ID          string `json:"id,omitempty" jsonschema_description:"Update the item with this id; omit to create a new item"`
	Name        string `json:"name" jsonschema_description:"Display name"`
	Pattern     string `json:"pattern" jsonschema_description:"Regular expression (RE2 syntax)"`
	Flags       string `json:"flags,omitempty" jsonschema_description:"Pattern flags (g, i, m, s)"`
	Description string `json:"description,omitempty" jsonschema_description:"What the pattern finds"`
	Category    string `json:"category,omitempty" jsonschema_description:"Grouping category (default: General)"`
}

// LibraryDeleteArgument identifies a library item.
type LibraryDeleteArgument struct {
	ID string `json:"id" jsonschema_description:"Id of the item to delete"`
}

// LibraryExportArgument defines export parameters.
type LibraryExportArgument struct {
	Format string `json:"format,omitempty" jsonschema_description:"Output format: json (default), yaml or toml"`
}

// LibraryImportArgument defines import parameters.
type LibraryImportArgument struct {
	Data   string `json:"data" jsonschema_description:"Serialized library, as produced by library_export"`
	Format string `json:"format,omitempty" jsonschema_description:"Input format: json (default), yaml or toml"`
}

// LibraryHandler handles the library_* MCP tools.
type LibraryHandler struct {
	service *Service
}

// NewLibraryHandler creates a new library handler.
func NewLibraryHandler(service *Service) *LibraryHandler {
	return &LibraryHandler{
		service: service,
	}
}

func (h *LibraryHandler) library() (*engine.PatternLibrary, error) {
	eng := h.service.Engine()
	if !eng.Config().LibraryEnabled {
		return nil, engine.ErrLibraryDisabled
	}
	return eng.Library(), nil
}

// HandleList lists saved patterns grouped by category.
func (h *LibraryHandler) HandleList(_ context.Context, _ *mcp.CallToolRequest, args LibraryListArgument) (*mcp.CallToolResult, any, error) {
	lib, err := h.library()
	if err != nil {
		return operationError("Library", err), nil, nil
	}

	if q := strings.TrimSpace(args.Query); q != "" {
		items := lib.Find(q, maxFindResults)
		if len(items) == 0 {
			return textResult(fmt.Sprintf("No saved patterns match '%s'", q)), nil, nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Saved patterns matching '%s':\n\n", q)
		for _, it := range items {
			writeLibraryItem(&sb, it)
		}
		return textResult(sb.String()), nil, nil
	}

	groups := lib.ListByCategory()
	categories := lib.Categories()
	if args.Category != "" {
		categories = slices.DeleteFunc(categories, func(c string) bool { return c != args.Category })
	}
	if len(categories) == 0 {
		return textResult("The pattern library is empty"), nil, nil
	}

	var sb strings.Builder
	for _, c := range categories {
		fmt.Fprintf(&sb, "## %s\n\n", c)
		for _, it := range groups[c] {
			writeLibraryItem(&sb, it)
		}
		sb.WriteString("\n")
	}
	return textResult(sb.String()), nil, nil
}

func writeLibraryItem(sb *strings.Builder, it domain.PatternLibraryItem) {
	fmt.Fprintf(sb, "- **%s** `/%s/%s` (id: %s, used %d times)", it.Name, it.Pattern, it.Flags, it.ID, it.UsageCount)
	if it.Description != "" {
		fmt.Fprintf(sb, ": %s", it.Description)
	}
	sb.WriteString("\n")
}

// HandleSave creates a pattern, or updates it when the id exists.
func (h *LibraryHandler) HandleSave(ctx context.Context, _ *mcp.CallToolRequest, args LibrarySaveArgument) (*mcp.CallToolResult, any, error) {
	lib, err := h.library()
	if err != nil {
		return operationError("Library", err), nil, nil
	}

	item := domain.PatternLibraryItem{
		ID:          args.ID,
		Name:        args.Name,
		Pattern:     args.Pattern,
		Flags:       args.Flags,
		Description: args.Description,
		Category:    args.Category,
	}

	var saved domain.PatternLibraryItem
	verb := "Saved"
	if _, exists := lib.Get(args.ID); args.ID != "" && exists {
		saved, err = lib.Update(args.ID, item)
		verb = "Updated"
	} else {
		saved, err = lib.Add(item)
	}
	if err != nil {
		return operationError("Save", err), nil, nil
	}

	h.service.persist(ctx)
	return textResult(fmt.Sprintf("%s pattern '%s' (id: %s, category: %s)", verb, saved.Name, saved.ID, saved.Category)), nil, nil
}

// HandleDelete removes a pattern.
func (h *LibraryHandler) HandleDelete(ctx context.Context, _ *mcp.CallToolRequest, args LibraryDeleteArgument) (*mcp.CallToolResult, any, error) {
	lib, err := h.library()
	if err != nil {
		return operationError("Library", err), nil, nil
	}
	if err := lib.Remove(args.ID); err != nil {
		if errors.Is(err, engine.ErrItemNotFound) {
			return errorResult("No saved pattern with id %s", args.ID), nil, nil
		}
		return operationError("Delete", err), nil, nil
	}

	h.service.persist(ctx)
	return textResult(fmt.Sprintf("Deleted pattern %s", args.ID)), nil, nil
}

// HandleExport serializes the library.
func (h *LibraryHandler) HandleExport(_ context.Context, _ *mcp.CallToolRequest, args LibraryExportArgument) (*mcp.CallToolResult, any, error) {
	lib, err := h.library()
	if err != nil {
		return operationError("Library", err), nil, nil
	}
	format, err := engine.ParseFormat(args.Format)
	if err != nil {
		return errorResult("%s", err), nil, nil
	}
	data, err := lib.Export(format)
	if err != nil {
		return operationError("Export", err), nil, nil
	}
	return textResult(fmt.Sprintf("```%s\n%s\n```\n", format, strings.TrimRight(string(data), "\n"))), nil, nil
}

// HandleImport merges a serialized library. Existing ids are kept.
func (h *LibraryHandler) HandleImport(ctx context.Context, _ *mcp.CallToolRequest, args LibraryImportArgument) (*mcp.CallToolResult, any, error) {
	lib, err := h.library()
	if err != nil {
		return operationError("Library", err), nil, nil
	}
	format, err := engine.ParseFormat(args.Format)
	if err != nil {
		return errorResult("%s", err), nil, nil
	}
	report, err := lib.Import([]byte(args.Data), format)
	if err != nil {
		return errorResult("Import rejected: %s", err), nil, nil
	}

	if len(report.Added) > 0 {
		h.service.persist(ctx)
	}
	text := fmt.Sprintf("Imported %d patterns", len(report.Added))
	if len(report.Skipped) > 0 {
		text += fmt.Sprintf(", skipped %d existing: %s", len(report.Skipped), strings.Join(report.Skipped, ", "))
	}
	return textResult(text), nil, nil
}

// RegisterLibraryTools registers the library_* tools.
func RegisterLibraryTools(server *mcp.Server, service *Service) {
	h := NewLibraryHandler(service)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "library_list",
		Description: "List saved regex patterns by category, or fuzzy-find them by name",
	}, h.HandleList)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "library_save",
		Description: "Save a named regex pattern to the library, or update an existing one by id",
	}, h.HandleSave)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "library_delete",
		Description: "Delete a saved regex pattern",
	}, h.HandleDelete)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "library_export",
		Description: "Export the pattern library as JSON, YAML or TOML",
	}, h.HandleExport)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "library_import",
		Description: "Import patterns exported by library_export. Items whose id already exists are skipped",
	}, h.HandleImport)
}
