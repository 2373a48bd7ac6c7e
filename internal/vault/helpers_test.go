package vault

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/vaultgrep/internal/config"
	"github.com/sha1n/vaultgrep/internal/domain"
	"github.com/sha1n/vaultgrep/internal/store"
)

// testSettings returns valid settings for a memory vault whose state lives in dir.
func testSettings(dir string) *config.Settings {
	return &config.Settings{
		Transport: "stdio",
		Auth:      config.AuthSettings{Type: config.AuthTypeNone},
		Vault: config.VaultSettings{
			Backend:   config.BackendMemory,
			StateFile: filepath.Join(dir, "state.json"),
		},
		Search: config.SearchSettings{
			MaxResultsPerFile: 50,
			MaxTotalResults:   1000,
			MaxFileSize:       1024 * 1024,
			Timeout:           5 * time.Second,
			SearchBatchSize:   4,
			ReplaceBatchSize:  2,
			ContextLines:      2,
			ConfirmReplace:    true,
			HistoryEnabled:    true,
			LibraryEnabled:    true,
			ResetDelay:        time.Hour,
			MaxPatternLength:  500,
			MaxComplexity:     1000,
		},
	}
}

// setupService creates an initialized service over an in-memory vault.
func setupService(t *testing.T, files map[string]string, mutate func(*config.Settings)) (*Service, *store.MemoryStore) {
	t.Helper()
	settings := testSettings(t.TempDir())
	if mutate != nil {
		mutate(settings)
	}

	docs := store.NewMemoryStore(files)
	svc, err := NewService(settings, WithStore(docs))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() {
		if err := svc.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	if err := svc.Initialize(t.Context()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return svc, docs
}

// resultText concatenates the text content of a tool result.
func resultText(result *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// engineItem builds a library item ready for PatternLibrary.Add.
func engineItem(name, pattern string) domain.PatternLibraryItem {
	return domain.PatternLibraryItem{Name: name, Pattern: pattern, Flags: "g"}
}
