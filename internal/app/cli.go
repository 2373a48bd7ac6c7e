package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	RegisterServerFlags(flags)
	RegisterVaultFlags(flags)
}

// RegisterServerFlags registers the MCP transport and auth flags
func RegisterServerFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
}

// RegisterVaultFlags registers the vault and search engine flags shared by every command
func RegisterVaultFlags(flags *pflag.FlagSet) {
	flags.StringP("vault", "d", "", "Vault root directory or afs URL (default: current directory)")
	flags.StringP("backend", "b", "", "Document backend: fs, index, or memory")
	flags.String("index-dir", "", "Directory for the content index (default: in memory)")
	flags.BoolP("watch", "w", false, "Invalidate cached content when vault files change")
	flags.String("state-file", "", "File holding search history and the pattern library")
	flags.BoolP("case-sensitive", "c", false, "Match case by default")
	flags.BoolP("multiline", "m", false, "Let ^ and $ match at line breaks by default")
	flags.Int("max-results-per-file", 0, "Maximum matches collected per document")
	flags.Int("max-total-results", 0, "Maximum matches collected per search")
	flags.StringSliceP("extensions", "e", nil, "Searched file extensions (comma-separated, empty for all)")
	flags.Bool("include-hidden", false, "Include dot files and directories")
	flags.StringSliceP("exclude", "x", nil, "Exclusion patterns: regex, glob, or substring (comma-separated)")
	flags.Int64("max-file-size", 0, "Largest document searched, in bytes")
	flags.Duration("timeout", 0, "Time limit for a single search or replace")
	flags.IntP("context-lines", "C", 0, "Context window size around each match")
	flags.Bool("confirm-replace", false, "Require confirmation before a vault-wide replace")
}
