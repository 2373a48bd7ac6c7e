package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sha1n/vaultgrep/internal/app"
	"github.com/sha1n/vaultgrep/internal/vault"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "vaultgrep"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := newRootCmd(version, programName)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd(version, programName string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "Regex search and replace over a vault of text documents",
		Long: "vaultgrep searches and rewrites a directory of text documents with regular expressions.\n" +
			"Without a subcommand it serves the vault over MCP (stdio or SSE).",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithFlags(cmd.Context(), cmd.Flags(), version)
		},
	}

	rootCmd.SetVersionTemplate(`{{.Version}}
`)

	app.RegisterServerFlags(rootCmd.Flags())
	app.RegisterVaultFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newSearchCmd(),
		newReplaceCmd(),
		newHistoryCmd(),
		newLibraryCmd(),
	)
	return rootCmd
}

func runWithFlags(ctx context.Context, flags *pflag.FlagSet, version string) error {
	return app.RunWithDeps(ctx, app.DefaultRunParams(), flags, version)
}

// withVault opens the vault for a one-shot command and closes it afterwards,
// which persists history and library changes.
func withVault(cmd *cobra.Command, fn func(ctx context.Context, svc *vault.Service) error) (err error) {
	ctx := cmd.Context()
	svc, err := app.OpenVault(ctx, app.DefaultRunParams(), cmd.Flags(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close vault: %w", closeErr))
		}
	}()
	return fn(ctx, svc)
}

func newSearchCmd() *cobra.Command {
	var opts app.SearchOptions
	cmd := &cobra.Command{
		Use:   "search [PATTERN]",
		Short: "Search the vault and print matches as document:line:column: text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Pattern = args[0]
			}
			return withVault(cmd, func(ctx context.Context, svc *vault.Service) error {
				return app.RunSearch(ctx, svc, opts, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVarP(&opts.Flags, "flags", "f", "", "Regex flags (g, i, m, s), default from configuration")
	cmd.Flags().StringVar(&opts.Document, "document", "", "Search a single document by id")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the full report as JSON")
	return cmd
}

func newReplaceCmd() *cobra.Command {
	var opts app.ReplaceOptions
	cmd := &cobra.Command{
		Use:   "replace PATTERN REPLACEMENT",
		Short: "Replace matches in the vault or in a single document",
		Long: "Replace matches of PATTERN with REPLACEMENT. Templates use $1, ${name} or $& for groups.\n" +
			"A vault-wide replace refuses to run without --yes while confirm-replace is enabled.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Pattern, opts.Replacement = args[0], args[1]
			return withVault(cmd, func(ctx context.Context, svc *vault.Service) error {
				return app.RunReplace(ctx, svc, opts, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVarP(&opts.Flags, "flags", "f", "", "Regex flags (g, i, m, s), default from configuration")
	cmd.Flags().StringVar(&opts.Document, "document", "", "Replace in a single document by id")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "Apply a vault-wide replace without confirmation")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var clearHistory bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent search patterns, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(_ context.Context, svc *vault.Service) error {
				return app.RunHistory(svc, clearHistory, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVar(&clearHistory, "clear", false, "Clear the search history")
	return cmd
}

func newLibraryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Export or import the saved pattern library",
	}

	var exportFormat string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the pattern library to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(_ context.Context, svc *vault.Service) error {
				return app.RunLibraryExport(svc, exportFormat, cmd.OutOrStdout())
			})
		},
	}
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json, yaml, or toml")

	var importFormat string
	importCmd := &cobra.Command{
		Use:   "import [FILE]",
		Short: "Merge patterns from FILE, or stdin when FILE is omitted or '-'",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeIn, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer closeIn()
			return withVault(cmd, func(_ context.Context, svc *vault.Service) error {
				return app.RunLibraryImport(svc, importFormat, in, cmd.OutOrStdout())
			})
		},
	}
	importCmd.Flags().StringVar(&importFormat, "format", "json", "Input format: json, yaml, or toml")

	cmd.AddCommand(exportCmd, importCmd)
	return cmd
}

func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
