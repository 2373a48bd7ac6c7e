package integration

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/vaultgrep/internal/config"
	"github.com/sha1n/vaultgrep/internal/engine"
	"github.com/sha1n/vaultgrep/internal/vault"
	"github.com/sha1n/vaultgrep/tests/integration/testkit"
)

var vaultFiles = map[string]string{
	"journal/2024-01-01.md": "# New year\nTODO: plan the year\nTODO: call mom",
	"projects/vaultgrep.md": "Status: draft\nTODO: ship it",
	"archive/old.txt":       "nothing to see",
	".obsidian/config.json": `{"TODO": "hidden"}`,
	"assets/logo.png":       "TODO: not a note",
}

// ========================================
// Service Lifecycle Tests
// ========================================

func TestServiceLifecycle_FSBackend(t *testing.T) {
	root := t.TempDir()
	testkit.WriteVault(t, root, vaultFiles)

	svc := openService(t, vaultSettings(t, root, config.BackendFS))
	defer closeService(t, svc)

	if !svc.IsReady() {
		t.Fatal("Expected service to be ready")
	}

	report, err := svc.Engine().Search(context.Background(), searchRequest("TODO"))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	// Hidden and non-text documents are filtered out.
	if report.DocumentsTotal != 3 {
		t.Errorf("Expected 3 eligible documents, got %d", report.DocumentsTotal)
	}
	if report.TotalMatches != 3 {
		t.Errorf("Expected 3 matches, got %d", report.TotalMatches)
	}
}

func TestServiceLifecycle_IndexBackendPersists(t *testing.T) {
	root := t.TempDir()
	testkit.WriteVault(t, root, vaultFiles)
	settings := vaultSettings(t, root, config.BackendIndex)
	settings.Vault.IndexDir = filepath.Join(t.TempDir(), "index")

	svc := openService(t, settings)
	if _, err := svc.Engine().Search(context.Background(), searchRequest("TODO")); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	closeService(t, svc)

	if _, err := os.Stat(settings.Vault.IndexDir); err != nil {
		t.Fatalf("Expected index directory to exist: %v", err)
	}

	// Reopen over the existing index after a file changed on disk.
	testkit.WriteVault(t, root, map[string]string{"projects/vaultgrep.md": "Status: shipped"})
	svc = openService(t, settings)
	defer closeService(t, svc)

	report, err := svc.Engine().Search(context.Background(), searchRequest("shipped"))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if report.TotalMatches != 1 {
		t.Errorf("Expected the refreshed index to see the change, got %d matches", report.TotalMatches)
	}
}

func TestServiceLifecycle_StatePersistsAcrossRestarts(t *testing.T) {
	root := t.TempDir()
	testkit.WriteVault(t, root, vaultFiles)
	settings := vaultSettings(t, root, config.BackendFS)

	svc := openService(t, settings)
	if _, err := svc.Engine().Search(context.Background(), searchRequest(`TODO:\s+\w+`)); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	closeService(t, svc)

	svc = openService(t, settings)
	defer closeService(t, svc)

	history := svc.Engine().History().List()
	if len(history) != 1 || history[0] != `TODO:\s+\w+` {
		t.Errorf("Expected history to survive restart, got %v", history)
	}
}

func TestServiceLifecycle_GracefulShutdown(t *testing.T) {
	root := t.TempDir()
	svc := openService(t, vaultSettings(t, root, config.BackendFS))

	if err := svc.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Errorf("Second Close returned error: %v", err)
	}
}

// ========================================
// MCP over HTTP Tests
// ========================================

func TestHTTP_SearchAndReplace(t *testing.T) {
	root := t.TempDir()
	testkit.WriteVault(t, root, vaultFiles)
	session := connect(t, testkit.FlagOptions{VaultRoot: root}, nil)

	text := callTool(t, session, "regex_search", map[string]any{"pattern": `TODO:\s*(.+)`})
	if !strings.Contains(text, "Found 3 matches in 2 documents") {
		t.Errorf("Unexpected search output:\n%s", text)
	}
	if strings.Contains(text, "logo.png") || strings.Contains(text, ".obsidian") {
		t.Errorf("Filtered documents leaked into results:\n%s", text)
	}

	preview := callTool(t, session, "regex_replace", map[string]any{"pattern": "TODO", "replacement": "DONE"})
	if !strings.Contains(preview, "confirm=true") {
		t.Errorf("Expected a confirmation preview, got:\n%s", preview)
	}
	assertFile(t, root, "projects/vaultgrep.md", "Status: draft\nTODO: ship it")

	applied := callTool(t, session, "regex_replace", map[string]any{
		"pattern":     "TODO",
		"replacement": "DONE",
		"confirm":     true,
	})
	if !strings.Contains(applied, "Replaced 3 matches in 2 documents") {
		t.Errorf("Unexpected replace output:\n%s", applied)
	}
	assertFile(t, root, "projects/vaultgrep.md", "Status: draft\nDONE: ship it")
	assertFile(t, root, "assets/logo.png", "TODO: not a note")

	history := callTool(t, session, "search_history", map[string]any{})
	if !strings.Contains(history, `TODO:\s*(.+)`) {
		t.Errorf("Expected search in history, got:\n%s", history)
	}
}

func TestHTTP_SingleDocumentReplaceSkipsConfirmation(t *testing.T) {
	root := t.TempDir()
	testkit.WriteVault(t, root, vaultFiles)
	session := connect(t, testkit.FlagOptions{VaultRoot: root}, nil)

	text := callTool(t, session, "regex_replace", map[string]any{
		"pattern":     `Status: (\w+)`,
		"replacement": "Status: ${1}ed",
		"document":    "projects/vaultgrep.md",
	})
	if !strings.Contains(text, "Replaced 1 matches in projects/vaultgrep.md") {
		t.Errorf("Unexpected output:\n%s", text)
	}
	assertFile(t, root, "projects/vaultgrep.md", "Status: drafted\nTODO: ship it")
}

func TestHTTP_LibraryRoundTrip(t *testing.T) {
	root := t.TempDir()
	testkit.WriteVault(t, root, vaultFiles)
	session := connect(t, testkit.FlagOptions{VaultRoot: root}, nil)

	saved := callTool(t, session, "library_save", map[string]any{
		"id":       "todos",
		"name":     "Open todos",
		"pattern":  `TODO:\s*(.+)`,
		"category": "Tasks",
	})
	if !strings.Contains(saved, "Saved pattern") {
		t.Fatalf("Unexpected save output:\n%s", saved)
	}

	found := callTool(t, session, "regex_search", map[string]any{"library_id": "todos"})
	if !strings.Contains(found, "Found 3 matches") {
		t.Errorf("Expected library pattern search to match, got:\n%s", found)
	}

	exported := callTool(t, session, "library_export", map[string]any{"format": "yaml"})
	if !strings.Contains(exported, "id: todos") || !strings.Contains(exported, "usage_count: 1") {
		t.Errorf("Unexpected export:\n%s", exported)
	}
}

func TestHTTP_APIKeyAuth(t *testing.T) {
	root := t.TempDir()
	testkit.WriteVault(t, root, vaultFiles)
	t.Setenv(config.EnvName("auth.api_keys"), "secret-key")

	opts := testkit.FlagOptions{VaultRoot: root, AuthType: config.AuthTypeAPIKey}
	session := connect(t, opts, &http.Client{
		Transport: headerTransport{header: "Authorization", value: "Bearer secret-key"},
	})

	text := callTool(t, session, "regex_search", map[string]any{"pattern": "draft"})
	if !strings.Contains(text, "Found 1 matches") {
		t.Errorf("Unexpected output:\n%s", text)
	}
}

// ========================================
// Helper Functions
// ========================================

func vaultSettings(t *testing.T, root, backend string) *config.Settings {
	t.Helper()
	flags := testkit.NewTestFlags(t, &testkit.FlagOptions{
		VaultRoot: root,
		Backend:   backend,
		Transport: "stdio",
	})
	settings, err := config.LoadSettingsWithFlags(flags)
	if err != nil {
		t.Fatalf("LoadSettingsWithFlags failed: %v", err)
	}
	if err := config.ValidateSettings(settings); err != nil {
		t.Fatalf("ValidateSettings failed: %v", err)
	}
	return settings
}

func searchRequest(pattern string) engine.SearchRequest {
	return engine.SearchRequest{Pattern: pattern}
}

func openService(t *testing.T, settings *config.Settings) *vault.Service {
	t.Helper()
	svc, err := vault.NewService(settings)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return svc
}

// closeService closes the service and reports any errors
func closeService(t *testing.T, svc *vault.Service) {
	t.Helper()
	if err := svc.Close(); err != nil {
		t.Errorf("Failed to close service: %v", err)
	}
}

// connect starts a vault server and returns a client session over the
// streamable HTTP endpoint.
func connect(t *testing.T, opts testkit.FlagOptions, httpClient *http.Client) *mcp.ClientSession {
	t.Helper()

	env := testkit.NewTestEnv(testkit.NewVaultServer(t, opts))
	props, err := env.Start()
	if err != nil {
		t.Fatalf("Failed to start test env: %v", err)
	}
	t.Cleanup(func() {
		if err := env.Stop(); err != nil {
			t.Errorf("Failed to stop test env: %v", err)
		}
	})

	transport := &mcp.StreamableClientTransport{
		Endpoint:   props[testkit.BaseURLProperty].(string) + "/mcp",
		HTTPClient: httpClient,
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "integration", Version: "1.0.0"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool %s failed: %v", name, err)
	}
	return extractTextContent(result)
}

func assertFile(t *testing.T, root, id, want string) {
	t.Helper()
	got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(id)))
	if err != nil {
		t.Fatalf("Failed to read %s: %v", id, err)
	}
	if string(got) != want {
		t.Errorf("%s: expected %q, got %q", id, want, got)
	}
}

// extractTextContent extracts text from MCP result
func extractTextContent(result *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

type headerTransport struct {
	header, value string
}

func (h headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set(h.header, h.value)
	return http.DefaultTransport.RoundTrip(r)
}
