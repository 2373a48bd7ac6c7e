package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sha1n/vaultgrep/internal/domain"
	"github.com/sha1n/vaultgrep/internal/engine"
	"github.com/sha1n/vaultgrep/internal/vault"
)

// ErrConfirmationRequired is returned by RunReplace when a vault-wide replace
// needs confirmation and none was given.
var ErrConfirmationRequired = errors.New("vault-wide replace requires confirmation, pass --yes to apply")

// SearchOptions holds the arguments of the search command.
type SearchOptions struct {
	Pattern  string
	Flags    string
	Document string
	JSON     bool
}

// RunSearch searches the vault and prints one line per match in
// "document:line:column: text" form, or the full report as JSON.
func RunSearch(ctx context.Context, svc *vault.Service, opts SearchOptions, out io.Writer) error {
	eng := svc.Engine()
	pattern := opts.Pattern
	if pattern == "" {
		pattern = svc.Settings().Search.DefaultPattern
	}
	if pattern == "" {
		return errors.New("a pattern is required")
	}

	if opts.Document != "" {
		result, err := eng.SearchDocument(ctx, opts.Document, pattern, opts.Flags)
		if err != nil {
			return err
		}
		if opts.JSON {
			return writeJSON(out, result)
		}
		if result.Failed() {
			return fmt.Errorf("%s: %s", result.DocumentID, result.Error)
		}
		printMatches(out, *result)
		return nil
	}

	report, err := eng.Search(ctx, engine.SearchRequest{Pattern: pattern, Flags: opts.Flags})
	if report == nil {
		return err
	}
	if opts.JSON {
		if jsonErr := writeJSON(out, report); jsonErr != nil {
			return jsonErr
		}
		return err
	}

	for _, r := range report.Results {
		if r.Failed() {
			fmt.Fprintf(out, "%s: error: %s\n", r.DocumentID, r.Error)
			continue
		}
		printMatches(out, r)
	}
	if report.Truncated {
		fmt.Fprintf(out, "(results truncated after %d matches)\n", report.TotalMatches)
	}
	return err
}

func printMatches(out io.Writer, r domain.SearchResult) {
	for _, m := range r.Matches {
		fmt.Fprintf(out, "%s:%d:%d: %s\n", r.DocumentID, m.Line, m.Column, m.LineText)
	}
}

// ReplaceOptions holds the arguments of the replace command.
type ReplaceOptions struct {
	Pattern     string
	Replacement string
	Flags       string
	Document    string
	Yes         bool
}

// RunReplace applies a replacement to one document or the whole vault.
func RunReplace(ctx context.Context, svc *vault.Service, opts ReplaceOptions, out io.Writer) error {
	eng := svc.Engine()

	if opts.Document != "" {
		result, err := eng.ReplaceDocument(ctx, opts.Document, opts.Pattern, opts.Replacement, opts.Flags)
		if err != nil {
			return err
		}
		if result.Error != "" {
			return fmt.Errorf("%s: %s", result.DocumentID, result.Error)
		}
		fmt.Fprintf(out, "%s: %d replaced\n", result.DocumentID, result.ReplacedCount)
		return nil
	}

	if eng.RequiresConfirmation() && !opts.Yes {
		if _, err := eng.Validate(opts.Pattern, opts.Flags); err != nil {
			return err
		}
		return ErrConfirmationRequired
	}

	agg, err := eng.Replace(ctx, engine.ReplaceRequest{
		Pattern:     opts.Pattern,
		Replacement: opts.Replacement,
		Flags:       opts.Flags,
	})
	if agg == nil {
		return err
	}
	for _, r := range agg.Results {
		if r.Error != "" {
			fmt.Fprintf(out, "%s: error: %s\n", r.DocumentID, r.Error)
			continue
		}
		fmt.Fprintf(out, "%s: %d replaced\n", r.DocumentID, r.ReplacedCount)
	}
	fmt.Fprintf(out, "%d replacements in %d files\n", agg.TotalReplacements, agg.FilesModified)
	return err
}

// RunHistory prints the search history, most recent first, or clears it.
func RunHistory(svc *vault.Service, clear bool, out io.Writer) error {
	history := svc.Engine().History()
	if clear {
		history.Clear()
		return nil
	}
	for _, p := range history.List() {
		fmt.Fprintln(out, p)
	}
	return nil
}

// RunLibraryExport writes the pattern library in the given format.
func RunLibraryExport(svc *vault.Service, format string, out io.Writer) error {
	lib, f, err := libraryAndFormat(svc, format)
	if err != nil {
		return err
	}
	data, err := lib.Export(f)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return err
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		_, err = io.WriteString(out, "\n")
	}
	return err
}

// RunLibraryImport merges a library payload read from in.
func RunLibraryImport(svc *vault.Service, format string, in io.Reader, out io.Writer) error {
	lib, f, err := libraryAndFormat(svc, format)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read library payload: %w", err)
	}
	report, err := lib.Import(data, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d, skipped %d", len(report.Added), len(report.Skipped))
	if len(report.Skipped) > 0 {
		fmt.Fprintf(out, " (%s)", strings.Join(report.Skipped, ", "))
	}
	fmt.Fprintln(out)
	return nil
}

func libraryAndFormat(svc *vault.Service, format string) (*engine.PatternLibrary, engine.Format, error) {
	if !svc.Settings().Search.LibraryEnabled {
		return nil, "", engine.ErrLibraryDisabled
	}
	f, err := engine.ParseFormat(format)
	if err != nil {
		return nil, "", err
	}
	return svc.Engine().Library(), f, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
