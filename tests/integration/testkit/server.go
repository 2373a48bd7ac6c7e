package testkit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sha1n/vaultgrep/internal/app"
	"github.com/sha1n/vaultgrep/internal/config"
)

// BaseURLProperty is the property under which a started VaultServer
// publishes its base URL.
const BaseURLProperty = "base_url"

// VaultServer runs the vaultgrep HTTP endpoints in-process on a free port.
type VaultServer struct {
	t       testing.TB
	opts    FlagOptions
	srv     *http.Server
	cleanup func()
	done    chan error
}

// NewVaultServer creates a server over the vault described by opts. The
// transport is always forced to sse.
func NewVaultServer(t testing.TB, opts FlagOptions) *VaultServer {
	opts.Transport = "sse"
	return &VaultServer{t: t, opts: opts}
}

func (s *VaultServer) GetName() string {
	return "vaultgrep-http"
}

// Start loads settings the way the CLI does, serves them and waits for
// /health to answer.
func (s *VaultServer) Start() (map[string]any, error) {
	flags := NewTestFlags(s.t, &s.opts)
	settings, err := config.LoadSettingsWithFlags(flags)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateSettings(settings); err != nil {
		return nil, err
	}

	mcpServer, cleanup, err := app.CreateMCPServer(settings)
	if err != nil {
		return nil, err
	}
	s.cleanup = cleanup

	srv, err := app.NewSSEServer(mcpServer, settings)
	if err != nil {
		s.runCleanup()
		return nil, err
	}
	l, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		s.runCleanup()
		return nil, err
	}
	s.srv = srv
	s.done = make(chan error, 1)
	go func() { s.done <- srv.Serve(l) }()

	baseURL := fmt.Sprintf("http://%s", l.Addr().String())
	if err := waitHealthy(baseURL+"/health", 5*time.Second); err != nil {
		_ = s.Stop()
		return nil, err
	}
	return map[string]any{BaseURLProperty: baseURL}, nil
}

// Stop shuts the HTTP server down and closes the vault service.
func (s *VaultServer) Stop() error {
	defer s.runCleanup()
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	if serveErr := <-s.done; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	s.srv = nil
	return err
}

func (s *VaultServer) runCleanup() {
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
}

func waitHealthy(url string, timeout time.Duration) error {
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("server at %s did not become healthy within %s", url, timeout)
}
