package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by LoadSettings.
const EnvPrefix = "VAULTGREP"

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Vault backend constants
const (
	BackendFS     = "fs"
	BackendIndex  = "index"
	BackendMemory = "memory"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// VaultSettings configuration for the searched document tree
type VaultSettings struct {
	Root      string `mapstructure:"root"`       // directory or afs URL
	Backend   string `mapstructure:"backend"`    // BackendFS, BackendIndex, or BackendMemory
	IndexDir  string `mapstructure:"index_dir"`  // empty keeps the content cache in memory
	Watch     bool   `mapstructure:"watch"`      // invalidate cached content on file changes
	StateFile string `mapstructure:"state_file"` // search history and pattern library
}

// SearchSettings configuration for the search and replace engine
type SearchSettings struct {
	CaseSensitive     bool          `mapstructure:"case_sensitive"`
	Multiline         bool          `mapstructure:"multiline"`
	MaxResultsPerFile int           `mapstructure:"max_results_per_file"`
	MaxTotalResults   int           `mapstructure:"max_total_results"`
	FileExtensions    []string      `mapstructure:"file_extensions"`
	IncludeHidden     bool          `mapstructure:"include_hidden"`
	ExcludePatterns   []string      `mapstructure:"exclude_patterns"`
	MaxFileSize       int64         `mapstructure:"max_file_size"`
	Timeout           time.Duration `mapstructure:"timeout"`
	SearchBatchSize   int           `mapstructure:"search_batch_size"`
	ReplaceBatchSize  int           `mapstructure:"replace_batch_size"`
	ContextLines      int           `mapstructure:"context_lines"`
	ConfirmReplace    bool          `mapstructure:"confirm_replace"`
	HistoryEnabled    bool          `mapstructure:"history_enabled"`
	LibraryEnabled    bool          `mapstructure:"library_enabled"`
	DefaultPattern    string        `mapstructure:"default_pattern"`
	ResetDelay        time.Duration `mapstructure:"reset_delay"`
	MaxPatternLength  int           `mapstructure:"max_pattern_length"`
	MaxComplexity     int           `mapstructure:"max_complexity"`
}

// Settings application settings
type Settings struct {
	Transport string         `mapstructure:"transport"`
	Host      string         `mapstructure:"host"`
	Port      int            `mapstructure:"port"`
	Auth      AuthSettings   `mapstructure:"auth"`
	Vault     VaultSettings  `mapstructure:"vault"`
	Search    SearchSettings `mapstructure:"search"`
}

// flagBindings maps config keys to the CLI flags that override them.
var flagBindings = map[string]string{
	"transport":                   "transport",
	"host":                        "host",
	"port":                        "port",
	"auth.type":                   "auth-type",
	"auth.basic.username":         "auth-basic-username",
	"auth.basic.password":         "auth-basic-password",
	"auth.api_keys":               "auth-api-keys",
	"vault.root":                  "vault",
	"vault.backend":               "backend",
	"vault.index_dir":             "index-dir",
	"vault.watch":                 "watch",
	"vault.state_file":            "state-file",
	"search.case_sensitive":       "case-sensitive",
	"search.multiline":            "multiline",
	"search.max_results_per_file": "max-results-per-file",
	"search.max_total_results":    "max-total-results",
	"search.file_extensions":      "extensions",
	"search.include_hidden":       "include-hidden",
	"search.exclude_patterns":     "exclude",
	"search.max_file_size":        "max-file-size",
	"search.timeout":              "timeout",
	"search.context_lines":        "context-lines",
	"search.confirm_replace":      "confirm-replace",
}

// envKeys are the nested keys bound to VAULTGREP_* variables.
var envKeys = []string{
	"auth.type",
	"auth.basic.username",
	"auth.basic.password",
	"auth.api_keys",
	"vault.root",
	"vault.backend",
	"vault.index_dir",
	"vault.watch",
	"vault.state_file",
	"search.case_sensitive",
	"search.multiline",
	"search.max_results_per_file",
	"search.max_total_results",
	"search.file_extensions",
	"search.include_hidden",
	"search.exclude_patterns",
	"search.max_file_size",
	"search.timeout",
	"search.search_batch_size",
	"search.replace_batch_size",
	"search.context_lines",
	"search.confirm_replace",
	"search.history_enabled",
	"search.library_enabled",
	"search.default_pattern",
	"search.reset_delay",
	"search.max_pattern_length",
	"search.max_complexity",
}

// EnvName returns the environment variable bound to a config key, e.g.
// "search.max_file_size" -> "VAULTGREP_SEARCH_MAX_FILE_SIZE".
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)

	// Vault defaults
	v.SetDefault("vault.root", ".")
	v.SetDefault("vault.backend", BackendFS)
	v.SetDefault("vault.index_dir", "")
	v.SetDefault("vault.watch", false)
	v.SetDefault("vault.state_file", defaultStateFile())

	// Search defaults
	v.SetDefault("search.case_sensitive", false)
	v.SetDefault("search.multiline", false)
	v.SetDefault("search.max_results_per_file", 50)
	v.SetDefault("search.max_total_results", 1000)
	v.SetDefault("search.file_extensions", []string{"md", "txt", "json", "js", "ts", "css", "html"})
	v.SetDefault("search.include_hidden", false)
	v.SetDefault("search.exclude_patterns", []string{".git/**", "node_modules/**", ".trash/**"})
	v.SetDefault("search.max_file_size", int64(10*1024*1024)) // 10MB
	v.SetDefault("search.timeout", 30*time.Second)
	v.SetDefault("search.search_batch_size", 10)
	v.SetDefault("search.replace_batch_size", 5)
	v.SetDefault("search.context_lines", 3)
	v.SetDefault("search.confirm_replace", true)
	v.SetDefault("search.history_enabled", true)
	v.SetDefault("search.library_enabled", true)
	v.SetDefault("search.default_pattern", "")
	v.SetDefault("search.reset_delay", 1500*time.Millisecond)
	v.SetDefault("search.max_pattern_length", 500)
	v.SetDefault("search.max_complexity", 1000)

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for nested config
	for _, key := range envKeys {
		_ = v.BindEnv(key, EnvName(key))
	}

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	settings.Auth.APIKeys = splitListEnv(settings.Auth.APIKeys, EnvName("auth.api_keys"))
	settings.Search.FileExtensions = splitListEnv(settings.Search.FileExtensions, EnvName("search.file_extensions"))
	settings.Search.ExcludePatterns = splitListEnv(settings.Search.ExcludePatterns, EnvName("search.exclude_patterns"))

	settings.Vault.Root = expandHomeDir(settings.Vault.Root)
	settings.Vault.IndexDir = expandHomeDir(settings.Vault.IndexDir)
	settings.Vault.StateFile = expandHomeDir(settings.Vault.StateFile)

	return &settings, nil
}

// splitListEnv handles lists provided via env var as a comma-separated string,
// trims spaces and drops empty entries.
func splitListEnv(values []string, envName string) []string {
	if raw := os.Getenv(envName); raw != "" {
		if len(values) == 0 || (len(values) == 1 && strings.Contains(values[0], ",")) {
			values = strings.Split(raw, ",")
		}
	}
	for i := range values {
		values[i] = strings.TrimSpace(values[i])
	}
	return filterEmptyStrings(values)
}

// defaultStateFile returns the default location of the history and library state
func defaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".vaultgrep", "state.json")
	}
	return filepath.Join(home, ".vaultgrep", "state.json")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	if err := validateVaultSettings(&s.Vault); err != nil {
		return err
	}
	return validateSearchSettings(&s.Search)
}

// validateVaultSettings validates the vault configuration
func validateVaultSettings(v *VaultSettings) error {
	switch v.Backend {
	case BackendFS, BackendIndex:
		if v.Root == "" {
			return errors.New("vault root cannot be empty")
		}
	case BackendMemory:
		if v.Watch {
			return errors.New("watch requires the fs or index backend")
		}
	default:
		return fmt.Errorf("backend must be 'fs', 'index' or 'memory', got: %s", v.Backend)
	}
	return nil
}

// validateSearchSettings validates the engine limits
func validateSearchSettings(s *SearchSettings) error {
	positive := []struct {
		name  string
		value int64
	}{
		{"max-results-per-file", int64(s.MaxResultsPerFile)},
		{"max-total-results", int64(s.MaxTotalResults)},
		{"max-file-size", s.MaxFileSize},
		{"timeout", int64(s.Timeout)},
		{"search-batch-size", int64(s.SearchBatchSize)},
		{"replace-batch-size", int64(s.ReplaceBatchSize)},
		{"max-pattern-length", int64(s.MaxPatternLength)},
		{"max-complexity", int64(s.MaxComplexity)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if s.ContextLines < 0 {
		return errors.New("context-lines cannot be negative")
	}
	if s.ResetDelay < 0 {
		return errors.New("reset-delay cannot be negative")
	}
	return nil
}
