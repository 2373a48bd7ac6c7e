package testkit

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Mock service for testing
type mockService struct {
	name       string
	startProps map[string]any
	startErr   error
	stopErr    error
	started    bool
	stopped    bool
	onStop     func() // Optional callback when Stop is called
}

func (m *mockService) Start() (map[string]any, error) {
	m.started = true
	return m.startProps, m.startErr
}

func (m *mockService) Stop() error {
	m.stopped = true
	if m.onStop != nil {
		m.onStop()
	}
	return m.stopErr
}

func (m *mockService) GetName() string {
	return m.name
}

func TestNewTestEnv(t *testing.T) {
	svc := &mockService{name: "test-service"}
	env := NewTestEnv(svc)

	if env == nil {
		t.Fatal("Expected non-nil TestEnv")
	}

	ctx := env.GetContext()
	if ctx == nil {
		t.Fatal("Expected non-nil context")
	}

	props := ctx.GetProperties()
	if props == nil {
		t.Fatal("Expected non-nil properties map")
	}
	if len(props) != 0 {
		t.Errorf("Expected empty properties, got %d", len(props))
	}
}

func TestTestEnvStart(t *testing.T) {
	t.Run("single service success", func(t *testing.T) {
		svc := &mockService{
			name:       "svc1",
			startProps: map[string]any{"port": 8080},
		}
		env := NewTestEnv(svc)

		props, err := env.Start()
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !svc.started {
			t.Error("Service should have been started")
		}
		if props["port"] != 8080 {
			t.Errorf("Expected port 8080, got %v", props["port"])
		}
	})

	t.Run("multiple services merge properties", func(t *testing.T) {
		svc1 := &mockService{
			name:       "svc1",
			startProps: map[string]any{"key1": "value1"},
		}
		svc2 := &mockService{
			name:       "svc2",
			startProps: map[string]any{"key2": "value2"},
		}
		env := NewTestEnv(svc1, svc2)

		props, err := env.Start()
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if props["key1"] != "value1" {
			t.Errorf("Expected key1=value1, got %v", props["key1"])
		}
		if props["key2"] != "value2" {
			t.Errorf("Expected key2=value2, got %v", props["key2"])
		}
	})

	t.Run("start error", func(t *testing.T) {
		svc := &mockService{
			name:     "failing-svc",
			startErr: errors.New("start failed"),
		}
		env := NewTestEnv(svc)

		_, err := env.Start()
		if err == nil {
			t.Fatal("Expected error")
		}
		if !errors.Is(err, svc.startErr) {
			t.Errorf("Expected wrapped 'start failed', got %v", err)
		}
		if !strings.Contains(err.Error(), "failing-svc") {
			t.Errorf("Expected error to name the service, got %v", err)
		}
	})

	t.Run("start error stops started services", func(t *testing.T) {
		ok := &mockService{name: "ok"}
		failing := &mockService{name: "failing", startErr: errors.New("boom")}
		never := &mockService{name: "never"}
		env := NewTestEnv(ok, failing, never)

		if _, err := env.Start(); err == nil {
			t.Fatal("Expected error")
		}
		if !ok.stopped {
			t.Error("Started service should have been stopped")
		}
		if failing.stopped || never.started {
			t.Error("Only started services should be stopped")
		}
	})
}

func TestTestEnvStop(t *testing.T) {
	t.Run("stops in reverse order", func(t *testing.T) {
		stopOrder := []string{}
		svc1 := &mockService{
			name: "svc1",
			onStop: func() {
				stopOrder = append(stopOrder, "svc1")
			},
		}
		svc2 := &mockService{
			name: "svc2",
			onStop: func() {
				stopOrder = append(stopOrder, "svc2")
			},
		}

		env := NewTestEnv(svc1, svc2)
		_, _ = env.Start()
		_ = env.Stop()

		if len(stopOrder) != 2 {
			t.Fatalf("Expected 2 stops, got %d", len(stopOrder))
		}
		if stopOrder[0] != "svc2" || stopOrder[1] != "svc1" {
			t.Errorf("Expected reverse order [svc2, svc1], got %v", stopOrder)
		}
	})

	t.Run("joins stop errors", func(t *testing.T) {
		svc1 := &mockService{name: "svc1", stopErr: errors.New("error1")}
		svc2 := &mockService{name: "svc2", stopErr: errors.New("error2")}
		env := NewTestEnv(svc1, svc2)

		err := env.Stop()
		if !errors.Is(err, svc1.stopErr) || !errors.Is(err, svc2.stopErr) {
			t.Errorf("Expected both stop errors, got %v", err)
		}
		if !svc1.stopped {
			t.Error("A failing stop must not skip the remaining services")
		}
	})
}

func TestTestEnvContext(t *testing.T) {
	svc := &mockService{
		name:       "svc",
		startProps: map[string]any{"key": "value"},
	}
	env := NewTestEnv(svc)
	_, _ = env.Start()

	ctx := env.GetContext()

	t.Run("GetProperty found", func(t *testing.T) {
		val, ok := ctx.GetProperty("key")
		if !ok {
			t.Error("Expected property to be found")
		}
		if val != "value" {
			t.Errorf("Expected 'value', got %v", val)
		}
	})

	t.Run("GetProperty not found", func(t *testing.T) {
		_, ok := ctx.GetProperty("nonexistent")
		if ok {
			t.Error("Expected property not to be found")
		}
	})
}

func TestGetFreePort(t *testing.T) {
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if port <= 0 {
		t.Errorf("Expected positive port, got %d", port)
	}

	// Verify we get different ports on subsequent calls
	port2, err := GetFreePort()
	if err != nil {
		t.Fatalf("Unexpected error on second call: %v", err)
	}
	// Note: ports might be the same if reused, but typically different
	if port2 <= 0 {
		t.Errorf("Expected positive port, got %d", port2)
	}
}

func TestMustGetFreePort(t *testing.T) {
	port := MustGetFreePort(t)
	if port <= 0 {
		t.Errorf("Expected positive port, got %d", port)
	}
}

func TestGetFreePortWithAddr_InvalidAddr(t *testing.T) {
	_, err := getFreePortWithAddr("invalid:address:format")
	if err == nil {
		t.Error("Expected error for invalid address")
	}
}

func TestNewTestFlags(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		flags := NewTestFlags(t, nil)

		transport, _ := flags.GetString("transport")
		if transport != "sse" {
			t.Errorf("Expected transport 'sse', got %s", transport)
		}

		authType, _ := flags.GetString("auth-type")
		if authType != "none" {
			t.Errorf("Expected auth-type 'none', got %s", authType)
		}

		host, _ := flags.GetString("host")
		if host != "localhost" {
			t.Errorf("Expected host 'localhost', got %s", host)
		}

		port, _ := flags.GetInt("port")
		if port <= 0 {
			t.Errorf("Expected positive port, got %d", port)
		}

		backend, _ := flags.GetString("backend")
		if backend != "fs" {
			t.Errorf("Expected backend 'fs', got %s", backend)
		}

		stateFile, _ := flags.GetString("state-file")
		if stateFile == "" {
			t.Error("Expected a temp state file")
		}
	})

	t.Run("vault options", func(t *testing.T) {
		root := t.TempDir()
		flags := NewTestFlags(t, &FlagOptions{VaultRoot: root, Backend: "index"})

		vaultRoot, _ := flags.GetString("vault")
		if vaultRoot != root {
			t.Errorf("Expected vault %s, got %s", root, vaultRoot)
		}

		backend, _ := flags.GetString("backend")
		if backend != "index" {
			t.Errorf("Expected backend 'index', got %s", backend)
		}
	})

	t.Run("custom options", func(t *testing.T) {
		flags := NewTestFlags(t, &FlagOptions{
			Port:      9999,
			Transport: "stdio",
			AuthType:  "basic",
			Host:      "127.0.0.1",
		})

		port, _ := flags.GetInt("port")
		if port != 9999 {
			t.Errorf("Expected port 9999, got %d", port)
		}

		transport, _ := flags.GetString("transport")
		if transport != "stdio" {
			t.Errorf("Expected transport 'stdio', got %s", transport)
		}

		authType, _ := flags.GetString("auth-type")
		if authType != "basic" {
			t.Errorf("Expected auth-type 'basic', got %s", authType)
		}

		host, _ := flags.GetString("host")
		if host != "127.0.0.1" {
			t.Errorf("Expected host '127.0.0.1', got %s", host)
		}
	})

	t.Run("auto-assign port when zero", func(t *testing.T) {
		flags := NewTestFlags(t, &FlagOptions{Port: 0})

		port, _ := flags.GetInt("port")
		if port <= 0 {
			t.Errorf("Expected auto-assigned positive port, got %d", port)
		}
	})
}

func TestWriteVault(t *testing.T) {
	root := t.TempDir()
	WriteVault(t, root, map[string]string{
		"a.md":        "alpha",
		"deep/b/c.md": "gamma",
	})

	content, err := os.ReadFile(filepath.Join(root, "deep", "b", "c.md"))
	if err != nil {
		t.Fatalf("Expected nested file to be written: %v", err)
	}
	if string(content) != "gamma" {
		t.Errorf("Expected 'gamma', got %q", content)
	}
}

func TestVaultServer_StartStop(t *testing.T) {
	root := t.TempDir()
	WriteVault(t, root, map[string]string{"a.md": "alpha"})

	env := NewTestEnv(NewVaultServer(t, FlagOptions{VaultRoot: root}))
	props, err := env.Start()
	if err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	baseURL, ok := props[BaseURLProperty].(string)
	if !ok || baseURL == "" {
		t.Fatalf("Expected base URL property, got %v", props)
	}

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	if err := env.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
