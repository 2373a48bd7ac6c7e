package config

import (
	"context"
	"log/slog"
)

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == "sse" {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", "****")
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}

	logger.InfoContext(ctx, "Config: vault.backend", "value", s.Vault.Backend)
	if s.Vault.Backend != BackendMemory {
		logger.InfoContext(ctx, "Config: vault.root", "value", s.Vault.Root)
		logger.InfoContext(ctx, "Config: vault.watch", "value", s.Vault.Watch)
	}
	if s.Vault.Backend == BackendIndex {
		logger.InfoContext(ctx, "Config: vault.index_dir", "value", s.Vault.IndexDir)
	}
	logger.InfoContext(ctx, "Config: vault.state_file", "value", s.Vault.StateFile)

	logger.InfoContext(ctx, "Config: search", "value", SearchSettingsLogValue(s.Search))
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = "****"
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", "****"),
	)
}

// VaultSettingsLogValue returns a slog.Value for VaultSettings
func VaultSettingsLogValue(s VaultSettings) slog.Value {
	return slog.GroupValue(
		slog.String("root", s.Root),
		slog.String("backend", s.Backend),
		slog.String("index_dir", s.IndexDir),
		slog.Bool("watch", s.Watch),
		slog.String("state_file", s.StateFile),
	)
}

// SearchSettingsLogValue returns a slog.Value for SearchSettings
func SearchSettingsLogValue(s SearchSettings) slog.Value {
	return slog.GroupValue(
		slog.Bool("case_sensitive", s.CaseSensitive),
		slog.Bool("multiline", s.Multiline),
		slog.Int("max_results_per_file", s.MaxResultsPerFile),
		slog.Int("max_total_results", s.MaxTotalResults),
		slog.Any("file_extensions", s.FileExtensions),
		slog.Bool("include_hidden", s.IncludeHidden),
		slog.Any("exclude_patterns", s.ExcludePatterns),
		slog.Int64("max_file_size", s.MaxFileSize),
		slog.Duration("timeout", s.Timeout),
		slog.Int("search_batch_size", s.SearchBatchSize),
		slog.Int("replace_batch_size", s.ReplaceBatchSize),
		slog.Int("context_lines", s.ContextLines),
		slog.Bool("confirm_replace", s.ConfirmReplace),
		slog.Bool("history_enabled", s.HistoryEnabled),
		slog.Bool("library_enabled", s.LibraryEnabled),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.Any("vault", VaultSettingsLogValue(s.Vault)),
		slog.Any("search", SearchSettingsLogValue(s.Search)),
	)
}
